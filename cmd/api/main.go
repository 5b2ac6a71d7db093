package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"versionstore/api/internal/app"
	"versionstore/api/internal/config"
	"versionstore/api/internal/gitrepo"
	"versionstore/api/internal/metrics"
	"versionstore/api/internal/search"
	"versionstore/api/internal/store"
	"versionstore/api/internal/versioning"
	"versionstore/api/internal/viewcache"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx := context.Background()

	backend, db, err := store.OpenBackend(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	if db != nil {
		defer db.Close()
	} else {
		log.Printf("Using in-memory store; data is lost on exit")
	}

	engine := versioning.NewEngine(backend, versioning.Options{
		MaxCascadeDepth:  cfg.CascadeMaxDepth,
		BatchConcurrency: cfg.BatchConcurrency,
	})

	deps := app.Deps{Metrics: metrics.New(nil)}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis view cache")
		cache, err := viewcache.NewRedisCache(cfg.RedisURL, cfg.ViewCacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		deps.Cache = cache
	}

	var fallback search.Searcher
	if db != nil {
		fallback = search.NewPgFTS(db)
	} else {
		fallback = search.NewMemorySearcher()
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)
	go searchService.ReindexAllFromPG(ctx)
	deps.Search = searchService

	if strings.TrimSpace(cfg.MirrorDir) != "" {
		if err := os.MkdirAll(cfg.MirrorDir, 0o755); err != nil {
			log.Fatalf("failed to create mirror dir: %v", err)
		}
		deps.Mirror = gitrepo.New(cfg.MirrorDir)
	}

	service := app.New(cfg, engine, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Versionstore API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
