package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillswap/chat-app/internal/config"
	"github.com/skillswap/chat-app/internal/match"
	"github.com/skillswap/chat-app/internal/metrics"
	"github.com/skillswap/chat-app/internal/profile"
	"github.com/skillswap/chat-app/internal/store"
)

func main() {
	log.Println("SkillSwap suggestion service starting...")

	cfg := config.LoadMatcher()

	db, err := store.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	svc := match.NewService(profile.NewStore(db))

	mux := http.NewServeMux()
	mux.Handle("GET /suggestions", svc.Handler())
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("suggestion service listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("postgres close: %v", err)
	}
	log.Println("shutdown complete")
}
