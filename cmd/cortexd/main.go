// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/cortexlabs/cortexd/internal/config"
	"github.com/cortexlabs/cortexd/internal/coordinator"
	"github.com/cortexlabs/cortexd/internal/embeddings"
	"github.com/cortexlabs/cortexd/internal/logger"
	"github.com/cortexlabs/cortexd/internal/metastore"
	"github.com/cortexlabs/cortexd/internal/retrieval"
	"github.com/cortexlabs/cortexd/internal/server"
	"github.com/cortexlabs/cortexd/internal/store"
)

var (
	httpAddr  = flag.String("http-addr", "", "HTTP/WS listen address (overrides CORTEXD_HTTP_ADDR)")
	storeAddr = flag.String("store-addr", "", "Chunk store gRPC address (overrides CORTEXD_STORE_ADDR)")
	dataDir   = flag.String("data-dir", "./cortexd-data", "Directory for the local metastore database")
	logFile   = flag.String("log-file", "cortexd.log", "Path to the daemon's log file")
)

func main() {
	flag.Parse()

	// Initialize logger first (before loading .env) so the load itself is logged.
	if _, err := logger.Init(*logFile); err != nil {
		log.Printf("failed to initialize logger: %v, using stdout only", err)
	} else {
		logger.Printf("logger initialized, writing to %s", *logFile)
	}

	if err := godotenv.Load(); err != nil {
		logger.Printf("no .env file found, using environment variables: %v", err)
	} else {
		logger.Printf("loaded .env file")
	}

	cfg := config.Default()
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *storeAddr != "" {
		cfg.StoreAddr = *storeAddr
	}

	meta, err := metastore.Open(*dataDir)
	if err != nil {
		logger.Fatalf("failed to open metastore: %v", err)
	}
	defer meta.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.Dial(ctx, cfg.StoreAddr)
	cancel()
	if err != nil {
		logger.Fatalf("failed to dial chunk store at %s: %v", cfg.StoreAddr, err)
	}

	embedder := initEmbedder(cfg)

	var reranker retrieval.Reranker
	if cfg.RerankerEnabled && cfg.RerankerURL != "" {
		reranker = retrieval.NewHTTPReranker(cfg.RerankerURL)
		logger.Printf("reranker enabled, talking to %s", cfg.RerankerURL)
	}

	coord := coordinator.New(cfg, st, meta, embedder, reranker)

	srv := server.New(coord)
	httpSrv := srv.NewHTTPServer(cfg.HTTPAddr)

	go func() {
		logger.Printf("HTTP/WS server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(httpSrv, coord, st)
}

// initEmbedder auto-detects the embedder type from OPENAI_API_KEY, matching
// the teacher's initEmbedder fallback-to-mock behavior when no key is set.
func initEmbedder(cfg config.Config) embeddings.Embedder {
	embedderType := cfg.EmbedderType
	if embedderType == "" || embedderType == "mock" {
		if len(os.Getenv("OPENAI_API_KEY")) > 0 {
			embedderType = "openai"
			logger.Printf("EMBEDDER_TYPE not set, auto-detected: openai (OPENAI_API_KEY found)")
		} else {
			embedderType = "mock"
			logger.Printf("EMBEDDER_TYPE not set, using: mock (no OPENAI_API_KEY)")
		}
	}

	if embedderType == "mock" {
		return embeddings.NewMockEmbedder(8)
	}

	opts := map[string]string{
		"api_key":   os.Getenv("OPENAI_API_KEY"),
		"model":     os.Getenv("EMBEDDER_MODEL"),
		"base_url":  os.Getenv("OLLAMA_BASE_URL"),
		"dimension": os.Getenv("EMBEDDER_DIMENSION"),
	}
	embedder, err := embeddings.NewEmbedder(embedderType, opts)
	if err != nil {
		logger.Fatalf("failed to initialize embedder: %v", err)
	}
	logger.Printf("initialized embedder: %s (dimension: %d)", embedderType, embedder.Dimension())
	return embedder
}

// waitForShutdown blocks for SIGINT/SIGTERM, then drains the HTTP server and
// stops every repo watcher before closing the store, mirroring the
// teacher's waitForShutdown (grpcServer.GracefulStop + httpServer.Shutdown)
// with the chunk store's 30-second grace window standing in for the
// teacher's gRPC service.
func waitForShutdown(httpSrv *http.Server, coord *coordinator.Coordinator, st *store.Store) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down cortexd...")

	coord.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP shutdown error: %v", err)
	}

	if err := st.Close(); err != nil {
		logger.Errorf("store close error: %v", err)
	}

	if err := logger.GetDefault().Close(); err != nil {
		log.Printf("failed to close logger: %v", err)
	}
}
