package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"finguard/internal/backend"
	"finguard/internal/config"
	"finguard/internal/core"
	"finguard/internal/gateway"
	apphttp "finguard/internal/http"
	"finguard/internal/identity"
	applog "finguard/internal/log"
	"finguard/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "type", backendCfg.Type)
		os.Exit(1)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	// Remote participant: HTTP when configured, otherwise this service
	// is the wallet authority and remote legs accept locally.
	var participant gateway.Participant = gateway.LocalParticipant{}
	if cfg.RemoteParticipantURL != "" {
		participant = gateway.NewHTTPParticipant(cfg.RemoteParticipantURL)
		logger.Info("Remote participant configured", "url", cfg.RemoteParticipantURL)
	}
	remote := gateway.New(participant, logger.WithComponent(applog.ComponentGateway).Logger)
	remote.Register(services.OpWalletDebit, gateway.Strategy{Kind: gateway.OpWrite, Timeout: cfg.RemoteTimeout})
	remote.Register(services.OpWalletCredit, gateway.Strategy{Kind: gateway.OpWrite, Timeout: cfg.RemoteTimeout})
	remote.Register(services.OpMarketQuotes, gateway.Strategy{
		Kind:    gateway.OpRead,
		Timeout: cfg.RemoteTimeout,
		CacheKey: func(payload any) string {
			assets, ok := payload.([]string)
			if !ok {
				return ""
			}
			return strings.Join(assets, ",")
		},
	})

	auth := identity.NewAuthenticator([]byte(cfg.JWTSecret), cfg.TokenTTL)

	txnCfg := services.TransactionConfig{
		OverpaymentPolicy: core.OverpaymentPolicy(cfg.OverpaymentPolicy),
		CommitRetries:     cfg.CommitRetries,
	}
	svcs := apphttp.Services{
		Transactions: services.NewTransactionService(result.Store, remote, result.Events, txnCfg),
		Wallets:      services.NewWalletService(result.Store),
		Budgets:      services.NewBudgetService(result.Store),
		Debts:        services.NewDebtService(result.Store),
		Portfolios:   services.NewPortfolioService(result.Store, remote),
	}

	srv := apphttp.NewServer(":"+cfg.Port, auth, svcs)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting finguard server",
			"port", cfg.Port,
			"backend", backendCfg.Type,
			"events_enabled", result.Events != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Info("Shutdown signal received")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
