package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hivecrack/hivecrack/internal/config"
	"github.com/hivecrack/hivecrack/internal/db"
	"github.com/hivecrack/hivecrack/internal/routes"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		debug.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		debug.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		debug.Error("Failed to run migrations: %v", err)
		os.Exit(1)
	}

	engine := routes.Setup(database, cfg)

	if cfg.RebalanceInterval > 0 {
		spec := fmt.Sprintf("@every %s", cfg.RebalanceInterval)
		if err := engine.Rebalancer.StartTimer(spec); err != nil {
			debug.Error("Failed to start rebalance timer: %v", err)
			os.Exit(1)
		}
		defer engine.Rebalancer.StopTimer()
	}
	if cfg.TaskPruneInterval > 0 {
		spec := fmt.Sprintf("@every %s", cfg.TaskPruneInterval)
		if err := engine.Cleanup.Start(spec); err != nil {
			debug.Error("Failed to start task pruner: %v", err)
			os.Exit(1)
		}
		defer engine.Cleanup.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      engine.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		debug.Info("Listening on %s", cfg.Addr())
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		debug.Error("Server failed: %v", err)
		os.Exit(1)
	case sig := <-stop:
		debug.Info("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		debug.Error("Graceful shutdown failed: %v", err)
	}
}
