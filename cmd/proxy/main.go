package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"hokm-lite/internal/config"
	"hokm-lite/internal/proxy"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional)")
	flag.Parse()

	cfg, err := config.LoadProxy(*configPath)
	if err != nil {
		log.Fatalf("[Proxy] Failed to load config: %v", err)
	}

	backends := make([]*proxy.Backend, len(cfg.Backends))
	for i, url := range cfg.Backends {
		name := "primary"
		if i > 0 {
			name = fmt.Sprintf("backup_%d", i)
		}
		backends[i] = proxy.NewBackend(name, url)
		log.Printf("[Proxy] Backend %s -> %s", name, url)
	}

	p := proxy.New(proxy.Config{
		HealthInterval:  cfg.HealthInterval,
		ProbeTimeout:    cfg.ProbeTimeout,
		FailoverAfter:   cfg.FailoverAfter,
		MigrationLimit:  cfg.MigrationLimit,
		MigrationWindow: cfg.MigrationWindow,
		MigrationMinGap: cfg.MigrationMinGap,
	}, backends)
	p.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.HandleClient)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Printf("[Proxy] Listening on %s with %d backend(s)", cfg.ListenAddr, len(backends))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Proxy] Failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Proxy] Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Proxy] HTTP shutdown: %v", err)
	}
	p.Close()
	log.Printf("[Proxy] Bye")
}
