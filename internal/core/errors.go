package core

import "errors"

// Validation errors, detected before any entity is touched.
var (
	ErrEmptyOwner          = errors.New("owner id cannot be empty")
	ErrEmptyCategory       = errors.New("category cannot be empty")
	ErrEmptyAssetType      = errors.New("asset type cannot be null")
	ErrEmptyLoanID         = errors.New("loan id cannot be empty")
	ErrEmptyIdempotencyKey = errors.New("idempotency key cannot be empty")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidKind         = errors.New("invalid transaction kind")
	ErrInvalidPeriod       = errors.New("end date must not be before start date")
)

// Invariant errors, returned by the engine when a delta is inadmissible.
// The entity state is never mutated on these.
var (
	ErrNegativeBalance      = errors.New("cannot set wallet to a negative amount")
	ErrOverpayment          = errors.New("payment exceeds outstanding debt")
	ErrInsufficientQuantity = errors.New("sell quantity exceeds held quantity")
)

// Orchestration errors.
var (
	// ErrUnauthorized is returned when the caller is not the owner of
	// the entity a request targets.
	ErrUnauthorized = errors.New("caller is not the owner of this entity")

	// ErrNotFound wraps the specific missing-entity message.
	ErrNotFound = errors.New("entity not found")

	// ErrRemoteUnavailable is returned when a write-path remote call
	// failed and its fallback produced no result.
	ErrRemoteUnavailable = errors.New("remote participant unavailable")

	// ErrConflict is returned when optimistic-concurrency retries are
	// exhausted.
	ErrConflict = errors.New("concurrent modification, retries exhausted")

	// ErrVersionConflict is the per-attempt conditional-put failure the
	// orchestrator retries on before surfacing ErrConflict.
	ErrVersionConflict = errors.New("entity version changed since read")

	// ErrDuplicateSubmission marks an idempotency-key replay. The store
	// keeps exactly one record per key.
	ErrDuplicateSubmission = errors.New("duplicate submission for idempotency key")
)
