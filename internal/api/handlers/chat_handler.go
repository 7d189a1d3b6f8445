package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/svscope/svscope/internal/services"
)

type ChatHandler struct {
	rag *services.RAGService
}

func NewChatHandler(rag *services.RAGService) *ChatHandler {
	return &ChatHandler{rag: rag}
}

type ChatRequest struct {
	Query string `json:"query"`
	// ContextSvsID focuses the answer on one page when set.
	ContextSvsID *int `json:"context_svs_id,omitempty"`
}

func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	result, err := h.rag.Chat(r.Context(), req.Query, req.ContextSvsID)
	if err != nil {
		http.Error(w, fmt.Sprintf("chat failed: %v", err), http.StatusInternalServerError)
		return
	}
	if result.Citations == nil {
		result.Citations = []services.Citation{}
	}

	writeJSON(w, result)
}
