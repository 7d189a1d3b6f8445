package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/svscope/svscope/internal/config"
	"github.com/svscope/svscope/internal/core"
	db "github.com/svscope/svscope/internal/core/database"
	"github.com/svscope/svscope/internal/core/llm"
	"github.com/svscope/svscope/internal/core/objectclient"
	"github.com/svscope/svscope/internal/ingest"
	"github.com/svscope/svscope/internal/models"
	"github.com/svscope/svscope/internal/services"
)

var (
	flagMaxPages     int
	flagSkipExisting bool
	flagSvsIDs       []int
	flagBatchSize    int
	flagLimit        int
	flagChunkType    string
	flagIncremental  bool
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	root := &cobra.Command{
		Use:   "svscope-ingest",
		Short: "Ingestion tooling for the SVS archive",
	}
	root.AddCommand(
		discoverCmd(ctx),
		crawlCmd(ctx),
		ingestCmd(ctx),
		contentUpdateCmd(ctx),
		embedCmd(ctx),
		cacheThumbnailsCmd(ctx),
		testAPICmd(ctx),
		testParseCmd(ctx),
	)

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

type deps struct {
	cfg      *config.Config
	log      *logrus.Logger
	store    core.DbClient
	pipeline *ingest.Pipeline
}

func setup(ctx context.Context) (*deps, error) {
	cfg := config.LoadConfig()
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	store, err := db.NewDatabaseClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	client := ingest.NewClient(cfg.SvsBaseURL, cfg.SvsRateLimit, cfg.SvsMaxRetries,
		time.Duration(cfg.SvsRetryDelay*float64(time.Second)), log)
	pipeline := ingest.NewPipeline(store, client, ingest.NewParser(cfg.SvsBaseURL), ingest.NewChunker(), log)

	return &deps{cfg: cfg, log: log, store: store, pipeline: pipeline}, nil
}

func (d *deps) close() {
	_ = d.store.Close()
}

func discoverCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Walk the listing API and upsert page stubs",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			stats, err := d.pipeline.RunDiscovery(ctx, flagBatchSize, func(current, total int) {
				fmt.Printf("\rdiscovered %d/%d", current, total)
			})
			fmt.Println()
			if err != nil {
				return err
			}
			fmt.Printf("discovered=%d upserted=%d errors=%d\n", stats.Discovered, stats.Upserted, stats.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&flagBatchSize, "batch-size", 500, "API page size")
	return cmd
}

func crawlCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetch and process page HTML",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			stats, err := d.pipeline.RunHTMLCrawl(ctx, ingest.CrawlOptions{
				SvsIDs:       flagSvsIDs,
				SkipExisting: flagSkipExisting,
				MaxPages:     flagMaxPages,
				Progress: func(processed, success, errors int) {
					fmt.Printf("\rprocessed=%d success=%d errors=%d", processed, success, errors)
				},
			})
			fmt.Println()
			if err != nil {
				return err
			}
			fmt.Printf("processed=%d success=%d errors=%d\n", stats.Processed, stats.Success, stats.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&flagMaxPages, "max-pages", 0, "cap on pages to crawl (0 = all)")
	cmd.Flags().BoolVar(&flagSkipExisting, "skip-existing", true, "skip pages already crawled")
	cmd.Flags().IntSliceVar(&flagSvsIDs, "svs-ids", nil, "restrict to specific SVS ids")
	return cmd
}

func ingestCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Full ingestion: discovery then crawl, under one run record",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			mode := models.RunModeFull
			if flagIncremental {
				mode = models.RunModeIncremental
			}
			run, err := d.pipeline.RunFullIngestion(ctx, mode, flagMaxPages, flagSkipExisting)
			if run != nil {
				fmt.Printf("run=%s status=%s total=%d processed=%d success=%d errors=%d\n",
					run.RunID, run.Status, run.TotalItems, run.ProcessedItems, run.SuccessCount, run.ErrorCount)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&flagMaxPages, "max-pages", 0, "cap on pages to crawl (0 = all)")
	cmd.Flags().BoolVar(&flagSkipExisting, "skip-existing", true, "skip pages already crawled")
	cmd.Flags().BoolVar(&flagIncremental, "incremental", false, "record the run as incremental")
	return cmd
}

func contentUpdateCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content-update",
		Short: "Backfill structured content on pages missing it",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			stats, err := d.pipeline.RunContentUpdate(ctx, flagMaxPages)
			if err != nil {
				return err
			}
			fmt.Printf("processed=%d success=%d errors=%d\n", stats.Processed, stats.Success, stats.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&flagMaxPages, "max-pages", 0, "cap on pages to update (0 = all)")
	return cmd
}

func embedCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate embeddings for chunks that have none",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			var embedder core.EmbeddingProvider
			switch d.cfg.EmbedBackend {
			case "ollama":
				embedder = llm.NewOllamaEmbedder(d.cfg.OllamaBaseURL, d.cfg.EmbedModel, d.cfg.EmbedDim)
			default:
				embedder, err = llm.NewGeminiEmbedder(ctx, d.cfg.AIAPIKey, d.cfg.EmbedModel, d.cfg.EmbedDim)
				if err != nil {
					return fmt.Errorf("init embedder: %w", err)
				}
			}

			sweep := ingest.NewEmbeddingPipeline(d.store, embedder, flagBatchSize, d.log)
			types := []string{flagChunkType}
			if flagChunkType == "all" {
				types = []string{models.ChunkTypePage, models.ChunkTypeAsset}
			}
			for _, chunkType := range types {
				stats, err := sweep.Run(ctx, chunkType, flagLimit, func(processed, total int) {
					fmt.Printf("\r%s chunks %d/%d", chunkType, processed, total)
				})
				fmt.Println()
				if err != nil {
					return err
				}
				fmt.Printf("type=%s processed=%d elapsed=%.1fs rate=%.1f/s model=%s\n",
					chunkType, stats.Processed, stats.ElapsedSeconds, stats.ChunksPerSec, stats.ModelName)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flagChunkType, "type", "all", "chunk type: page, asset or all")
	cmd.Flags().IntVar(&flagBatchSize, "batch-size", ingest.DefaultEmbedBatchSize, "embedding batch size")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "max chunks to process (0 = all)")
	return cmd
}

func cacheThumbnailsCmd(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache-thumbnails",
		Short: "Copy page thumbnails into object storage",
		RunE: func(_ *cobra.Command, _ []string) error {
			d, err := setup(ctx)
			if err != nil {
				return err
			}
			defer d.close()

			objects, err := objectclient.NewS3Client(ctx, d.cfg)
			if err != nil {
				return fmt.Errorf("init object client: %w", err)
			}

			svc := services.NewThumbnailService(d.store, objects, d.cfg.BucketName, d.log)
			stats, err := svc.CachePending(ctx, flagLimit)
			if err != nil {
				return err
			}
			fmt.Printf("processed=%d cached=%d errors=%d\n", stats.Processed, stats.Cached, stats.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "max thumbnails to cache (0 = all)")
	return cmd
}

// testAPICmd probes the listing API without touching the database.
func testAPICmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "test-api [query]",
		Short: "Run a sample search against the listing API",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			log := logrus.New()
			client := ingest.NewClient(cfg.SvsBaseURL, cfg.SvsRateLimit, cfg.SvsMaxRetries,
				time.Duration(cfg.SvsRetryDelay*float64(time.Second)), log)

			query := "moon"
			if len(args) > 0 {
				query = args[0]
			}
			resp, err := client.Search(ctx, query, nil, 5, 0)
			if err != nil {
				return err
			}
			fmt.Printf("count=%d\n", resp.Count)
			for _, r := range resp.Results {
				fmt.Printf("  %d  %s  (%s)\n", r.ID, r.Title, r.ReleaseDate)
			}
			return nil
		},
	}
}

// testParseCmd fetches one page and dumps what the parser extracted.
func testParseCmd(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "test-parse <svs_id>",
		Short: "Fetch and parse one page, printing the extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var svsID int
			if _, err := fmt.Sscanf(args[0], "%d", &svsID); err != nil || svsID <= 0 {
				return fmt.Errorf("invalid svs id: %q", args[0])
			}

			cfg := config.LoadConfig()
			log := logrus.New()
			client := ingest.NewClient(cfg.SvsBaseURL, cfg.SvsRateLimit, cfg.SvsMaxRetries,
				time.Duration(cfg.SvsRetryDelay*float64(time.Second)), log)
			parser := ingest.NewParser(cfg.SvsBaseURL)

			html, err := client.FetchPageHTML(ctx, svsID)
			if err != nil {
				return err
			}
			parsed, err := parser.Parse(html, svsID)
			if err != nil {
				return err
			}

			fmt.Printf("title:    %s\n", parsed.Title)
			fmt.Printf("summary:  %s\n", parsed.Summary)
			if parsed.PublishedDate != nil {
				fmt.Printf("date:     %s\n", parsed.PublishedDate.Format("2006-01-02"))
			}
			fmt.Printf("keywords: %v\n", parsed.Keywords)
			fmt.Printf("credits:  %d\n", len(parsed.Credits))
			for _, c := range parsed.Credits {
				fmt.Printf("  %s: %s (%s)\n", c.Role, c.Name, c.Organization)
			}
			fmt.Printf("assets:   %d\n", len(parsed.Assets))
			for _, a := range parsed.Assets {
				fmt.Printf("  [%s] %d files\n", a.MediaType, len(a.Files))
			}
			fmt.Printf("related:  %d\n", len(parsed.RelatedPages))
			return nil
		},
	}
}
