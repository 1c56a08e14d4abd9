// Package http exposes the ledger over a JSON API. Handlers stay thin:
// decode, call the service, map the typed error onto a status.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"finguard/internal/identity"
	"finguard/internal/services"
)

type Server struct {
	http.Server

	auth         *identity.Authenticator
	transactions *services.TransactionService
	wallets      *services.WalletService
	budgets      *services.BudgetService
	debts        *services.DebtService
	portfolios   *services.PortfolioService

	rateLimiter  *rateLimiter
	metrics      *securityMetrics
	started      time.Time
	shutdownOnce sync.Once
}

// Services bundles everything the API serves.
type Services struct {
	Transactions *services.TransactionService
	Wallets      *services.WalletService
	Budgets      *services.BudgetService
	Debts        *services.DebtService
	Portfolios   *services.PortfolioService
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, auth *identity.Authenticator, svcs Services) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		auth:         auth,
		transactions: svcs.Transactions,
		wallets:      svcs.Wallets,
		budgets:      svcs.Budgets,
		debts:        svcs.Debts,
		portfolios:   svcs.Portfolios,
		rateLimiter:  newRateLimiter(),
		metrics:      &securityMetrics{},
		started:      time.Now(),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	protect := func(h http.HandlerFunc) http.HandlerFunc {
		return s.withMiddleware(s.withAuth(h))
	}

	mux.HandleFunc("POST /api/transactions", protect(s.handleSubmitTransaction))
	mux.HandleFunc("GET /api/transactions", protect(s.handleListTransactions))
	mux.HandleFunc("GET /api/transactions/{id}", protect(s.handleGetTransaction))

	mux.HandleFunc("POST /api/wallet", protect(s.handleCreateWallet))
	mux.HandleFunc("GET /api/wallet", protect(s.handleGetWallet))
	mux.HandleFunc("POST /api/wallet/balance", protect(s.handleUpdateWalletBalance))

	mux.HandleFunc("POST /api/budgets", protect(s.handleCreateBudget))
	mux.HandleFunc("GET /api/budgets", protect(s.handleListBudgets))
	mux.HandleFunc("GET /api/budgets/report", protect(s.handleBudgetReport))
	mux.HandleFunc("GET /api/budgets/{id}", protect(s.handleGetBudget))
	mux.HandleFunc("PUT /api/budgets/{id}", protect(s.handleUpdateBudget))
	mux.HandleFunc("DELETE /api/budgets/{id}", protect(s.handleDeleteBudget))
	mux.HandleFunc("GET /api/budgets/{id}/remaining", protect(s.handleBudgetRemaining))

	mux.HandleFunc("POST /api/debts", protect(s.handleCreateDebt))
	mux.HandleFunc("GET /api/debts", protect(s.handleListDebts))
	mux.HandleFunc("GET /api/debts/{id}", protect(s.handleGetDebt))
	mux.HandleFunc("DELETE /api/debts/{id}", protect(s.handleDeleteDebt))

	mux.HandleFunc("GET /api/portfolios", protect(s.handleListPortfolios))
	mux.HandleFunc("GET /api/portfolios/{id}", protect(s.handleGetPortfolio))
	mux.HandleFunc("PUT /api/portfolios/{id}", protect(s.handleUpdatePortfolio))
	mux.HandleFunc("DELETE /api/portfolios/{id}", protect(s.handleDeletePortfolio))

	return s
}

// Shutdown gracefully shuts down the server and cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
