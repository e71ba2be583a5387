package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessefreitas/noc-orquestrador-sub001/internal/api"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/app"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/config"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/db"
	"github.com/jessefreitas/noc-orquestrador-sub001/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Env)

	gdb, err := db.Init(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init db", "error", err)
	}
	a, err := app.New(cfg, gdb, logger)
	if err != nil {
		logger.Fatal("failed to wire services", "error", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           api.Router(a),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0, // snapshot runs and syncs can take minutes; rely on LB timeouts
		WriteTimeout:      0,
		MaxHeaderBytes:    1 << 20, // 1MB headers
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("server starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
