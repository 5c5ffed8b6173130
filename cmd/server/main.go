package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/api"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/app"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/config"
)

func main() {
	// .env is optional, the real environment wins
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	app.UseNumericAmounts()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	publisher, closePublisher := app.OpenPublisher(cfg, logger)
	defer closePublisher()

	ledgerService := app.NewLedger(store, publisher, cfg, logger)

	router := api.NewRouter(
		api.NewHandler(ledgerService, logger),
		api.NewWebhookHandler(ledgerService, cfg.StripeWebhookSecret, logger),
		api.RouterOptions{
			AdminJWTSecret: cfg.AdminJWTSecret,
			AdminRoles:     cfg.AdminRoleList(),
			AllowedOrigins: cfg.CORSOriginList(),
		},
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort, "store", cfg.StoreBackend, "events", cfg.EventsBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
