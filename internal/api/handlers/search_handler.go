package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/svscope/svscope/internal/core"
	"github.com/svscope/svscope/internal/models"
	"github.com/svscope/svscope/internal/services"
)

type SearchHandler struct {
	dbclient  core.DbClient
	retrieval *services.RetrievalService
}

func NewSearchHandler(db core.DbClient, retrieval *services.RetrievalService) *SearchHandler {
	return &SearchHandler{dbclient: db, retrieval: retrieval}
}

type chunkSearchResponse struct {
	Query   string                    `json:"query"`
	Results []services.RetrievedChunk `json:"results"`
}

type pageSearchResponse struct {
	Query   string        `json:"query"`
	Results []models.Page `json:"results"`
}

// Search runs hybrid chunk retrieval by default; mode=pages switches to
// whole-page full-text search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", services.DefaultTopK)
	if limit < 1 || limit > maxPageLimit {
		limit = services.DefaultTopK
	}

	if r.URL.Query().Get("mode") == "pages" {
		pages, err := h.dbclient.SearchPagesFullText(r.Context(), query, limit)
		if err != nil {
			http.Error(w, fmt.Sprintf("page search failed: %v", err), http.StatusInternalServerError)
			return
		}
		if pages == nil {
			pages = []models.Page{}
		}
		writeJSON(w, pageSearchResponse{Query: query, Results: pages})
		return
	}

	results, err := h.retrieval.Retrieve(r.Context(), query, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []services.RetrievedChunk{}
	}
	writeJSON(w, chunkSearchResponse{Query: query, Results: results})
}
