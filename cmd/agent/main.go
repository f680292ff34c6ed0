package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiva/labdock/config"
	"github.com/shiva/labdock/internal/agentd"
)

func main() {
	cfg, err := config.LoadAgent()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := agentd.NewDockerRuntime(cfg.StopGrace)
	if err != nil {
		log.Fatalf("failed to connect to Docker: %v", err)
	}
	log.Println("✓ Docker connected")

	server := agentd.NewServer(*cfg, runtime)

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: server.Router(),
		// Image pulls ride on the write timeout; keep it generous.
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		log.Printf("🚀 Agent listening on %s (advertising %s)", cfg.ListenAddr(), cfg.Host)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("⏳ Shutting down agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("✅ Agent gracefully stopped")
}
