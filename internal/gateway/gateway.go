// Package gateway wraps calls to remote participants in a per-operation
// strategy: bounded timeout plus an explicit fallback path. The original
// system left these as commented-out circuit-breaker annotations; here
// the fallback boundary is a first-class, pluggable object.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finguard/internal/core"
	applog "finguard/internal/log"
)

// OpKind distinguishes the fallback contract: reads may degrade to
// stale or empty results, writes must never report a fallback as
// success.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// Participant invokes one operation on a downstream service.
type Participant interface {
	Invoke(ctx context.Context, operation string, payload any) (any, error)
}

// Strategy is the per-operation call policy.
type Strategy struct {
	Kind    OpKind
	Timeout time.Duration

	// Fallback produces the degraded result when the call fails. A nil
	// result from a write fallback surfaces as ErrRemoteUnavailable to
	// the caller. When Fallback itself is nil the defaults apply:
	// reads fall back to the cached last-good result or an empty one,
	// writes to an absent result.
	Fallback func(ctx context.Context, payload any, cause error) (any, error)

	// CacheKey derives the last-good cache key for read operations.
	// Nil disables caching for the operation.
	CacheKey func(payload any) string
}

const defaultTimeout = 3 * time.Second

// Gateway routes operations to one remote participant under its
// registered strategies.
type Gateway struct {
	participant Participant
	strategies  map[string]Strategy
	cache       *resultCache
	logger      *slog.Logger
}

func New(participant Participant, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		participant: participant,
		strategies:  make(map[string]Strategy),
		cache:       newResultCache(256, 5*time.Minute),
		logger:      logger,
	}
}

// Register installs the strategy for an operation. Unregistered
// operations are treated as writes with the default timeout.
func (g *Gateway) Register(operation string, s Strategy) {
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	g.strategies[operation] = s
}

// Call invokes the operation with the strategy's deadline. On transport
// failure or timeout the fallback runs instead of propagating the raw
// error. A write whose fallback yields no result returns
// core.ErrRemoteUnavailable; the caller must not treat that as success.
func (g *Gateway) Call(ctx context.Context, operation string, payload any) (any, error) {
	strategy, ok := g.strategies[operation]
	if !ok {
		strategy = Strategy{Kind: OpWrite, Timeout: defaultTimeout}
	}

	callCtx, cancel := context.WithTimeout(ctx, strategy.Timeout)
	defer cancel()

	result, err := g.participant.Invoke(callCtx, operation, payload)
	if err == nil {
		if strategy.Kind == OpRead && strategy.CacheKey != nil {
			g.cache.Set(operation+":"+strategy.CacheKey(payload), result)
		}
		return result, nil
	}

	g.logger.WarnContext(ctx, "Remote participant call failed, taking fallback",
		applog.FieldOperation, operation,
		applog.FieldError, err)

	return g.fallback(ctx, operation, strategy, payload, err)
}

func (g *Gateway) fallback(ctx context.Context, operation string, s Strategy, payload any, cause error) (any, error) {
	if s.Fallback != nil {
		result, err := s.Fallback(ctx, payload, cause)
		if err != nil {
			return nil, fmt.Errorf("fallback for %s: %w", operation, err)
		}
		if result == nil && s.Kind == OpWrite {
			return nil, fmt.Errorf("%s: %w: %s", operation, core.ErrRemoteUnavailable, cause)
		}
		return result, nil
	}

	switch s.Kind {
	case OpRead:
		if s.CacheKey != nil {
			if cached, ok := g.cache.Get(operation + ":" + s.CacheKey(payload)); ok {
				g.logger.InfoContext(ctx, "Serving last-good cached result",
					applog.FieldOperation, operation)
				return cached, nil
			}
		}
		// Degrade to an empty result, matching the original's
		// view-all fallbacks.
		return nil, nil
	default:
		return nil, fmt.Errorf("%s: %w: %s", operation, core.ErrRemoteUnavailable, cause)
	}
}

// IsUnavailable reports whether an error from Call means the remote leg
// did not happen.
func IsUnavailable(err error) bool {
	return errors.Is(err, core.ErrRemoteUnavailable)
}
