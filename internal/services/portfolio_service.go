package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"finguard/internal/core"
	"finguard/internal/gateway"
	"finguard/internal/identity"
	"finguard/internal/ledger"
	applog "finguard/internal/log"
)

// Market read operation served by the analytics side. Registered on the
// gateway as a read so a dead quote service degrades instead of taking
// portfolio views down with it.
const OpMarketQuotes = "market.quotes"

// Quote is one asset's current price as returned by the quote
// operation.
type Quote struct {
	AssetType string `json:"asset_type"`
	Price     string `json:"price"`
}

// PortfolioService manages positions. Buys and sells go through the
// transaction orchestrator; this service covers views and maintenance.
type PortfolioService struct {
	store  ledger.Store
	remote *gateway.Gateway
}

func NewPortfolioService(store ledger.Store, remote *gateway.Gateway) *PortfolioService {
	return &PortfolioService{store: store, remote: remote}
}

// View returns one position, owner-checked.
func (s *PortfolioService) View(ctx context.Context, principal identity.Principal, positionID string) (core.Position, error) {
	rec, err := s.store.Get(ctx, ledger.KindPosition, positionID)
	if err != nil {
		return core.Position{}, fmt.Errorf("portfolio not found with ID: %s: %w", positionID, core.ErrNotFound)
	}
	p := rec.(ledger.PositionRecord).Position
	if p.OwnerID != principal.UserID {
		return core.Position{}, core.ErrUnauthorized
	}
	return p, nil
}

// ViewAll returns all of the caller's positions.
func (s *PortfolioService) ViewAll(ctx context.Context, principal identity.Principal, ownerID string) ([]core.Position, error) {
	if ownerID != principal.UserID {
		return nil, core.ErrUnauthorized
	}
	records, err := s.store.GetByOwner(ctx, ledger.KindPosition, ownerID)
	if err != nil {
		return nil, err
	}
	positions := make([]core.Position, 0, len(records))
	for _, rec := range records {
		positions = append(positions, rec.(ledger.PositionRecord).Position)
	}
	if len(positions) == 0 {
		slog.WarnContext(ctx, "No portfolios found for user", applog.FieldOwnerID, ownerID)
	}
	return positions, nil
}

// ViewAllPriced returns the caller's positions with current prices
// refreshed from the quote service. When quotes are unavailable the
// stored prices stand; the view never fails on a dead market feed.
func (s *PortfolioService) ViewAllPriced(ctx context.Context, principal identity.Principal, ownerID string) ([]core.Position, error) {
	positions, err := s.ViewAll(ctx, principal, ownerID)
	if err != nil {
		return nil, err
	}
	if s.remote == nil || len(positions) == 0 {
		return positions, nil
	}

	assets := make([]string, 0, len(positions))
	for _, p := range positions {
		assets = append(assets, p.AssetType)
	}

	result, err := s.remote.Call(ctx, OpMarketQuotes, assets)
	if err != nil || result == nil {
		return positions, nil
	}
	quotes, err := decodeQuotes(result)
	if err != nil {
		slog.WarnContext(ctx, "Unusable quote payload, keeping stored prices",
			applog.FieldOperation, OpMarketQuotes,
			applog.FieldError, err)
		return positions, nil
	}

	byAsset := make(map[string]core.Money, len(quotes))
	for _, q := range quotes {
		price, err := core.NewMoneyFromString(q.Price)
		if err != nil {
			continue
		}
		byAsset[q.AssetType] = price
	}
	for i := range positions {
		if price, ok := byAsset[positions[i].AssetType]; ok {
			positions[i].CurrentPrice = price
		}
	}
	return positions, nil
}

// decodeQuotes rebuilds the typed quote list from whatever shape the
// gateway handed back. Over HTTP the payload arrives as generic JSON
// values, so the conversion goes through a marshal round trip rather
// than a type assertion.
func decodeQuotes(result any) ([]Quote, error) {
	if quotes, ok := result.([]Quote); ok {
		return quotes, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode quote payload: %w", err)
	}
	var quotes []Quote
	if err := json.Unmarshal(raw, &quotes); err != nil {
		return nil, fmt.Errorf("decode quote payload: %w", err)
	}
	return quotes, nil
}

// UpdatePrice refreshes a position's current price. Asset type is
// immutable; a blank one in the update is rejected the way the
// original did.
func (s *PortfolioService) UpdatePrice(ctx context.Context, principal identity.Principal, positionID string, assetType string, currentPrice core.Money) (core.Position, error) {
	p, err := s.View(ctx, principal, positionID)
	if err != nil {
		return core.Position{}, err
	}
	if strings.TrimSpace(assetType) == "" {
		return core.Position{}, fmt.Errorf("portfolio asset type cannot be null: %w", core.ErrEmptyAssetType)
	}
	if currentPrice.IsNegative() {
		return core.Position{}, core.ErrInvalidAmount
	}

	p.CurrentPrice = currentPrice
	if err := s.store.PutIfVersion(ctx, ledger.PositionRecord{Position: p}, p.Version); err != nil {
		return core.Position{}, fmt.Errorf("update portfolio with ID: %s: %w", positionID, err)
	}
	p.Version++

	slog.InfoContext(ctx, "Portfolio updated", "position_id", positionID)
	return p, nil
}

// Delete removes an empty position. Positions still holding quantity
// must be sold down first; deleting them would destroy value silently.
func (s *PortfolioService) Delete(ctx context.Context, principal identity.Principal, positionID string) error {
	p, err := s.View(ctx, principal, positionID)
	if err != nil {
		return err
	}
	if p.Quantity.IsPositive() {
		return fmt.Errorf("portfolio %s still holds %s units: %w", positionID, p.Quantity, core.ErrInvalidQuantity)
	}
	if err := s.store.Delete(ctx, ledger.KindPosition, positionID); err != nil {
		return fmt.Errorf("delete portfolio with ID: %s: %w", positionID, err)
	}
	slog.InfoContext(ctx, "Portfolio deleted", "position_id", positionID)
	return nil
}
