package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"edukg/backend/internal/adapter"
	"edukg/backend/internal/graph"
	"edukg/backend/internal/pipeline"
	"edukg/backend/internal/profile"
	"edukg/backend/internal/services"
	"edukg/backend/pkg/config"
	"edukg/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...", zap.String("store", cfg.StoreBackend), zap.String("merge_mode", cfg.MergeMode))

	ctx := context.Background()
	store, closeStore, err := graph.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer closeStore()

	var opts []pipeline.Option
	if cfg.LiteLLMURL != "" && cfg.ModelID != "" {
		llm := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.APIKey, cfg.ModelID, cfg.EmbeddingModel)
		opts = append(opts, pipeline.WithCompleter(llm), pipeline.WithEmbedder(llm))
	}
	p := pipeline.New(cfg, store, logger.Named("pipeline"), opts...)

	syncManager := services.NewSyncManager(logger.Named("sync"), p)
	syncManager.StartAuto(cfg.AutoSyncInterval)
	defer syncManager.StopAll()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(&server{
		store:    store,
		profiles: profile.NewService(store, cfg.InsufficientMastery),
		pipeline: p,
		sync:     syncManager,
		log:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
