package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"finguard/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// handleReady reports readiness to serve traffic
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- transactions ---

type submitTransactionRequest struct {
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	Category       string `json:"category,omitempty"`
	AssetType      string `json:"asset_type,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	Price          string `json:"price,omitempty"`
	Side           string `json:"side,omitempty"`
	LoanID         string `json:"loan_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type transactionView struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotency_key"`
	OwnerID        string `json:"owner_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Amount         string `json:"amount"`
	Category       string `json:"category,omitempty"`
	AssetType      string `json:"asset_type,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	LoanID         string `json:"loan_id,omitempty"`
	OverBudget     bool   `json:"over_budget,omitempty"`
	Cause          string `json:"cause,omitempty"`
	Timestamp      string `json:"timestamp"`
}

type submitTransactionResponse struct {
	Transaction transactionView `json:"transaction"`
	Wallet      *walletView     `json:"wallet,omitempty"`
	Budget      *budgetView     `json:"budget,omitempty"`
	Debt        *debtView       `json:"debt,omitempty"`
	Position    *positionView   `json:"position,omitempty"`
	OverBudget  bool            `json:"over_budget,omitempty"`
}

func transactionToView(txn core.Transaction) transactionView {
	v := transactionView{
		ID:             txn.ID,
		IdempotencyKey: txn.IdempotencyKey,
		OwnerID:        txn.OwnerID,
		Kind:           string(txn.Kind),
		Status:         string(txn.Status),
		Amount:         txn.Amount.String(),
		Category:       txn.Category,
		AssetType:      txn.AssetType,
		LoanID:         txn.LoanID,
		OverBudget:     txn.OverBudget,
		Cause:          txn.Cause,
		Timestamp:      txn.Timestamp.Format(time.RFC3339),
	}
	if !txn.Quantity.IsZero() {
		v.Quantity = txn.Quantity.String()
	}
	return v
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req submitTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidKind))
		return
	}

	// The header wins over the body field; one of them must be set.
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	principal := principalFrom(r.Context())
	txnReq := core.TransactionRequest{
		OwnerID:        principal.UserID,
		Kind:           core.TransactionKind(req.Kind),
		Category:       req.Category,
		AssetType:      req.AssetType,
		Side:           core.TradeSide(req.Side),
		LoanID:         req.LoanID,
		IdempotencyKey: key,
	}

	if req.Amount != "" {
		amount, err := core.NewMoneyFromString(req.Amount)
		if err != nil {
			writeError(w, r, fmt.Errorf("amount %q: %w", req.Amount, core.ErrInvalidAmount))
			return
		}
		txnReq.Amount = amount
	}
	if req.Quantity != "" {
		qty, err := core.NewQuantityFromString(req.Quantity)
		if err != nil {
			writeError(w, r, fmt.Errorf("quantity %q: %w", req.Quantity, core.ErrInvalidQuantity))
			return
		}
		txnReq.Quantity = qty
	}
	if req.Price != "" {
		price, err := core.NewMoneyFromString(req.Price)
		if err != nil {
			writeError(w, r, fmt.Errorf("price %q: %w", req.Price, core.ErrInvalidAmount))
			return
		}
		txnReq.Price = price
	}

	result, err := s.transactions.Submit(r.Context(), principal, txnReq)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := submitTransactionResponse{
		Transaction: transactionToView(result.Transaction),
		OverBudget:  result.OverBudget,
	}
	if result.Wallet != nil {
		v := walletToView(*result.Wallet)
		resp.Wallet = &v
	}
	if result.Budget != nil {
		v := budgetToView(*result.Budget)
		resp.Budget = &v
	}
	if result.Debt != nil {
		v := debtToView(*result.Debt)
		resp.Debt = &v
	}
	if result.Position != nil {
		v := positionToView(*result.Position)
		resp.Position = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	txns, err := s.transactions.ListByOwner(r.Context(), principal, principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]transactionView, 0, len(txns))
	for _, txn := range txns {
		views = append(views, transactionToView(txn))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := s.transactions.Get(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionToView(txn))
}

// --- wallet ---

type walletView struct {
	OwnerID   string `json:"owner_id"`
	Balance   string `json:"balance"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func walletToView(w core.Wallet) walletView {
	v := walletView{
		OwnerID: w.OwnerID,
		Balance: w.Balance.String(),
		Version: w.Version,
	}
	if !w.UpdatedAt.IsZero() {
		v.UpdatedAt = w.UpdatedAt.Format(time.RFC3339)
	}
	return v
}

type createWalletRequest struct {
	InitialBalance string `json:"initial_balance"`
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	// An empty body means a zero-balance wallet.
	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidAmount))
		return
	}
	initial := core.NewMoney(0)
	if req.InitialBalance != "" {
		parsed, err := core.NewMoneyFromString(req.InitialBalance)
		if err != nil {
			writeError(w, r, fmt.Errorf("initial balance %q: %w", req.InitialBalance, core.ErrInvalidAmount))
			return
		}
		initial = parsed
	}

	principal := principalFrom(r.Context())
	wallet, err := s.wallets.CreateForUser(r.Context(), principal.UserID, initial)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletToView(wallet))
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	wallet, err := s.wallets.Get(r.Context(), principal, principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletToView(wallet))
}

type updateBalanceRequest struct {
	Delta string `json:"delta"`
}

func (s *Server) handleUpdateWalletBalance(w http.ResponseWriter, r *http.Request) {
	var req updateBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidAmount))
		return
	}
	delta, err := core.NewMoneyFromString(req.Delta)
	if err != nil {
		writeError(w, r, fmt.Errorf("delta %q: %w", req.Delta, core.ErrInvalidAmount))
		return
	}

	principal := principalFrom(r.Context())
	wallet, err := s.wallets.UpdateBalance(r.Context(), principal, principal.UserID, delta)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletToView(wallet))
}

// --- budgets ---

type budgetRequest struct {
	Category  string `json:"category"`
	Allotted  string `json:"allotted"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type budgetView struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Category  string `json:"category"`
	Allotted  string `json:"allotted"`
	Spent     string `json:"spent"`
	Remaining string `json:"remaining"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Version   int64  `json:"version"`
}

func budgetToView(b core.Budget) budgetView {
	return budgetView{
		ID:        b.ID,
		OwnerID:   b.OwnerID,
		Category:  b.Category,
		Allotted:  b.Allotted.String(),
		Spent:     b.Spent.String(),
		Remaining: b.Remaining().String(),
		StartDate: b.StartDate.Format("2006-01-02"),
		EndDate:   b.EndDate.Format("2006-01-02"),
		Version:   b.Version,
	}
}

func (r budgetRequest) toBudget(ownerID string) (core.Budget, error) {
	allotted, err := core.NewMoneyFromString(r.Allotted)
	if err != nil {
		return core.Budget{}, fmt.Errorf("allotted %q: %w", r.Allotted, core.ErrInvalidAmount)
	}
	start, err := time.Parse("2006-01-02", r.StartDate)
	if err != nil {
		return core.Budget{}, fmt.Errorf("start date %q: %w", r.StartDate, core.ErrInvalidPeriod)
	}
	end, err := time.Parse("2006-01-02", r.EndDate)
	if err != nil {
		return core.Budget{}, fmt.Errorf("end date %q: %w", r.EndDate, core.ErrInvalidPeriod)
	}
	// Budgets cover their last day in full.
	end = end.Add(24*time.Hour - time.Nanosecond)
	return core.Budget{
		OwnerID:   ownerID,
		Category:  r.Category,
		Allotted:  allotted,
		StartDate: start,
		EndDate:   end,
	}, nil
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidAmount))
		return
	}
	principal := principalFrom(r.Context())
	b, err := req.toBudget(principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.budgets.Create(r.Context(), principal, b)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, budgetToView(created))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	budgets, err := s.budgets.ByOwner(r.Context(), principal, principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]budgetView, 0, len(budgets))
	for _, b := range budgets {
		views = append(views, budgetToView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.budgets.Get(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetToView(b))
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidAmount))
		return
	}
	principal := principalFrom(r.Context())
	update, err := req.toBudget(principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.budgets.Update(r.Context(), principal, r.PathValue("id"), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, budgetToView(updated))
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	if err := s.budgets.Delete(r.Context(), principalFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBudgetRemaining(w http.ResponseWriter, r *http.Request) {
	remaining, err := s.budgets.Remaining(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"remaining": remaining.String()})
}

type budgetReportRow struct {
	Budget     budgetView `json:"budget"`
	Spent      string     `json:"spent"`
	Remaining  string     `json:"remaining"`
	OverBudget bool       `json:"over_budget"`
}

func (s *Server) handleBudgetReport(w http.ResponseWriter, r *http.Request) {
	// Default window: the current month so far.
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	end := now

	if v := strings.TrimSpace(r.URL.Query().Get("start")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, r, fmt.Errorf("start %q: %w", v, core.ErrInvalidPeriod))
			return
		}
		start = parsed
	}
	if v := strings.TrimSpace(r.URL.Query().Get("end")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, r, fmt.Errorf("end %q: %w", v, core.ErrInvalidPeriod))
			return
		}
		end = parsed.Add(24*time.Hour - time.Nanosecond)
	}

	principal := principalFrom(r.Context())
	rows, err := s.budgets.Report(r.Context(), principal, principal.UserID, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]budgetReportRow, 0, len(rows))
	for _, row := range rows {
		views = append(views, budgetReportRow{
			Budget:     budgetToView(row.Budget),
			Spent:      row.Spent.String(),
			Remaining:  row.Remaining.String(),
			OverBudget: row.OverBudget,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// --- debts ---

type debtRequest struct {
	Principal  string  `json:"principal"`
	Rate       float64 `json:"rate"`
	TermMonths int     `json:"term_months"`
}

type debtView struct {
	LoanID      string  `json:"loan_id"`
	OwnerID     string  `json:"owner_id"`
	Principal   string  `json:"principal"`
	Outstanding string  `json:"outstanding"`
	Rate        float64 `json:"rate"`
	TermMonths  int     `json:"term_months"`
	Version     int64   `json:"version"`
}

func debtToView(d core.Debt) debtView {
	return debtView{
		LoanID:      d.LoanID,
		OwnerID:     d.OwnerID,
		Principal:   d.Principal.String(),
		Outstanding: d.Outstanding.String(),
		Rate:        d.Rate,
		TermMonths:  d.TermMonths,
		Version:     d.Version,
	}
}

func (s *Server) handleCreateDebt(w http.ResponseWriter, r *http.Request) {
	var req debtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidAmount))
		return
	}
	principalAmount, err := core.NewMoneyFromString(req.Principal)
	if err != nil {
		writeError(w, r, fmt.Errorf("principal %q: %w", req.Principal, core.ErrInvalidAmount))
		return
	}

	caller := principalFrom(r.Context())
	created, err := s.debts.Create(r.Context(), caller, core.Debt{
		OwnerID:    caller.UserID,
		Principal:  principalAmount,
		Rate:       req.Rate,
		TermMonths: req.TermMonths,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, debtToView(created))
}

func (s *Server) handleListDebts(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	debts, err := s.debts.ByOwner(r.Context(), principal, principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]debtView, 0, len(debts))
	for _, d := range debts {
		views = append(views, debtToView(d))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetDebt(w http.ResponseWriter, r *http.Request) {
	d, err := s.debts.Get(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, debtToView(d))
}

func (s *Server) handleDeleteDebt(w http.ResponseWriter, r *http.Request) {
	if err := s.debts.Delete(r.Context(), principalFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- portfolios ---

type positionView struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	AssetType     string `json:"asset_type"`
	Quantity      string `json:"quantity"`
	PurchasePrice string `json:"purchase_price"`
	CurrentPrice  string `json:"current_price"`
	PurchaseDate  string `json:"purchase_date,omitempty"`
	Version       int64  `json:"version"`
}

func positionToView(p core.Position) positionView {
	v := positionView{
		ID:            p.ID,
		OwnerID:       p.OwnerID,
		AssetType:     p.AssetType,
		Quantity:      p.Quantity.String(),
		PurchasePrice: p.PurchasePrice.String(),
		CurrentPrice:  p.CurrentPrice.String(),
		Version:       p.Version,
	}
	if !p.PurchaseDate.IsZero() {
		v.PurchaseDate = p.PurchaseDate.Format("2006-01-02")
	}
	return v
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	positions, err := s.portfolios.ViewAllPriced(r.Context(), principal, principal.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionToView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.portfolios.View(r.Context(), principalFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionToView(p))
}

type updatePortfolioRequest struct {
	AssetType    string `json:"asset_type"`
	CurrentPrice string `json:"current_price"`
}

func (s *Server) handleUpdatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req updatePortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("decode request: %w", core.ErrInvalidAmount))
		return
	}
	price, err := core.NewMoneyFromString(req.CurrentPrice)
	if err != nil {
		writeError(w, r, fmt.Errorf("current price %q: %w", req.CurrentPrice, core.ErrInvalidAmount))
		return
	}

	p, err := s.portfolios.UpdatePrice(r.Context(), principalFrom(r.Context()), r.PathValue("id"), req.AssetType, price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionToView(p))
}

func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	if err := s.portfolios.Delete(r.Context(), principalFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
