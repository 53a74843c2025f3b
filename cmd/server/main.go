package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imagevault/internal/config"
	"imagevault/internal/handlers"
	"imagevault/internal/search"
	"imagevault/internal/services"
	"imagevault/internal/store"
	"imagevault/internal/ws"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := cfg.NewLogger()
	ctx := context.Background()

	// Embedding provider
	client := openai.NewClient(cfg.OpenAIKey)
	var embedder services.Embedder
	switch cfg.EmbeddingProvider {
	case "local":
		local, err := services.NewLocalEmbedder(cfg.OnnxLibrary, cfg.OnnxModel, cfg.OnnxTokenizer)
		if err != nil {
			log.Fatalf("local embedder: %v", err)
		}
		defer local.Close()
		embedder = local
	default:
		if cfg.OpenAIKey == "" {
			log.Warn("OPENAI_API_KEY is empty; embeddings and edits will fail and fall back")
		}
		embedder = services.NewOpenAIEmbedder(client, cfg.EmbeddingModel)
	}

	// Storage
	meta, err := store.New(cfg.MetadataPath(), embedder, log)
	if err != nil {
		log.Fatalf("metadata store: %v", err)
	}
	files, err := store.NewFileStore(cfg.ImagesDir())
	if err != nil {
		log.Fatalf("file store: %v", err)
	}

	// Optional pgvector mirror
	var index *search.PostgresIndex
	if cfg.DatabaseURL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("connect to db: %v", err)
		}
		defer dbPool.Close()

		index = search.NewPostgresIndex(dbPool)
		if err := index.Migrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	var searchIndex search.VectorIndex
	libOpts := []services.LibraryOption{}
	if index != nil {
		searchIndex = index
		libOpts = append(libOpts, services.WithIndex(index))
	}
	searcher := search.NewSearcher(embedder, searchIndex, cfg.SearchTopK, log)

	// WebSocket Hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Thumbnails for the grid
	thumbs, err := services.NewThumbnailProcessor(
		cfg.ImagesDir(),
		cfg.ThumbnailsDir(),
		cfg.ThumbnailWorkers,
		func(job services.ThumbnailJob, thumbName string) {
			hub.Broadcast(ws.Message{
				Type:         ws.EventThumbnailReady,
				ImageID:      job.ImageID,
				Filename:     job.Filename,
				ThumbnailURL: "/thumbnails/" + thumbName,
			})
		},
		log,
	)
	if err != nil {
		log.Fatalf("thumbnails: %v", err)
	}

	editor := services.NewOpenAIEditor(client, cfg.EditModel, cfg.EditStyle)
	edits := services.NewEditOrchestrator(editor, files, log)

	libOpts = append(libOpts, services.WithThumbnails(thumbs), services.WithEvents(hub))
	library := services.NewLibrary(meta, files, searcher, edits, log, libOpts...)
	if err := library.RebuildIndex(ctx); err != nil {
		log.WithError(err).Warn("vector index unavailable, searching the document directly")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlers.NewRouter(library, hub, cfg.ImagesDir(), cfg.ThumbnailsDir(), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	thumbs.Shutdown()
	hub.Shutdown()
}
