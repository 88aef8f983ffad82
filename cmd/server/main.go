package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"hokm-lite/internal/auth"
	"hokm-lite/internal/config"
	"hokm-lite/internal/gateway"
	"hokm-lite/internal/hybrid"
	"hokm-lite/internal/room"
	"hokm-lite/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (optional)")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatalf("[Server] Failed to load config: %v", err)
	}

	authService, authMode, err := auth.NewServiceFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init auth manager: %v", err)
	}
	defer authService.Close()

	hot, hotMode, err := store.NewHotFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init hot store: %v", err)
	}
	defer hot.Close()
	cold, coldMode, err := store.NewColdFromEnv()
	if err != nil {
		log.Fatalf("[Server] Failed to init cold store: %v", err)
	}
	defer cold.Close()

	data := hybrid.New(hot, cold, hybrid.Config{
		Queue: hybrid.QueueConfig{
			Workers:    [3]int{cfg.SyncWorkersHigh, cfg.SyncWorkersMedium, cfg.SyncWorkersLow},
			MaxRetries: cfg.SyncMaxRetries,
		},
	})

	gw := gateway.New(gateway.Config{SessionTTL: cfg.HeartbeatTimeout}, authService, data)
	rooms := room.NewRegistry(room.Config{
		RoundsToWin:    cfg.RoundsToWin,
		TurnTimeout:    cfg.TurnTimeout,
		ReconnectGrace: cfg.ReconnectGrace,
		GameOverLinger: cfg.GameOverLinger,
		DataOpTimeout:  cfg.DataOpTimeout,
		ChatPerMinute:  cfg.ChatRatePerMinute,
		ChatBurst:      cfg.ChatBurst,
	}, data, gw.Send)
	gw.SetRegistry(rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Printf("[Server] Auth mode: %s", authMode)
		log.Printf("[Server] Hot store: %s, cold store: %s", hotMode, coldMode)
		log.Printf("[Server] Starting WebSocket server on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] Failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[Server] Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] HTTP shutdown: %v", err)
	}
	gw.Close()
	rooms.Close()
	// Flushes dirty entries and drains the high-priority sync queue.
	data.Close()
	log.Printf("[Server] Bye")
}
