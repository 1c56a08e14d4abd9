// Package storage provides the SQLite-backed ledger store. Entities are
// JSON rows keyed by kind and id with an explicit version column; the
// conditional put maps onto a versioned UPDATE so the optimistic
// concurrency contract holds across processes, not just goroutines.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finguard/internal/core"
	"finguard/internal/ledger"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, kind ledger.Kind, id string) (ledger.Entity, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM entities WHERE kind = ? AND id = ?`, string(kind), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	return decodeEntity(kind, data)
}

func (s *SQLiteStore) GetByOwner(ctx context.Context, kind ledger.Kind, ownerID string) ([]ledger.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM entities WHERE kind = ? AND owner_id = ?`, string(kind), ownerID)
	if err != nil {
		return nil, fmt.Errorf("get %s by owner %s: %w", kind, ownerID, err)
	}
	defer rows.Close()

	var out []ledger.Entity
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", kind, err)
		}
		e, err := decodeEntity(kind, data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Exists(ctx context.Context, kind ledger.Kind, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM entities WHERE kind = ? AND id = ?`, string(kind), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s %s: %w", kind, id, err)
	}
	return true, nil
}

func (s *SQLiteStore) PutIfVersion(ctx context.Context, e ledger.Entity, expectedVersion int64) error {
	now := time.Now().UTC()
	stamped := ledger.Stamp(e, expectedVersion+1, now)
	data, err := json.Marshal(stamped)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}

	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO entities (kind, id, owner_id, version, data, updated_at)
			 VALUES (?, ?, ?, 1, ?, ?)
			 ON CONFLICT(kind, id) DO NOTHING`,
			string(e.EntityKind()), e.EntityID(), e.EntityOwner(), data, now)
		if err != nil {
			return fmt.Errorf("insert %s %s: %w", e.EntityKind(), e.EntityID(), err)
		}
		return conditionalWriteOutcome(res, e)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET version = ?, data = ?, updated_at = ?
		 WHERE kind = ? AND id = ? AND version = ?`,
		expectedVersion+1, data, now,
		string(e.EntityKind()), e.EntityID(), expectedVersion)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	return conditionalWriteOutcome(res, e)
}

func (s *SQLiteStore) Delete(ctx context.Context, kind ledger.Kind, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE kind = ? AND id = ?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, txn core.Transaction) (core.Transaction, error) {
	data, err := json.Marshal(txn)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("encode transaction %s: %w", txn.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, idempotency_key, owner_id, data, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		txn.ID, txn.IdempotencyKey, txn.OwnerID, data, txn.Timestamp.UTC())
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction %s: %w", txn.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append transaction %s: %w", txn.ID, err)
	}
	if affected == 0 {
		// Another append already won the key; the first record stands.
		prior, ok, err := s.TransactionByKey(ctx, txn.IdempotencyKey)
		if err != nil {
			return core.Transaction{}, err
		}
		if !ok {
			return core.Transaction{}, fmt.Errorf("transaction key %s: %w", txn.IdempotencyKey, core.ErrNotFound)
		}
		return prior, core.ErrDuplicateSubmission
	}
	return txn, nil
}

func (s *SQLiteStore) Transaction(ctx context.Context, id string) (core.Transaction, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM transactions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return decodeTransaction(data)
}

func (s *SQLiteStore) TransactionByKey(ctx context.Context, idempotencyKey string) (core.Transaction, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM transactions WHERE idempotency_key = ?`, idempotencyKey).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, false, nil
	}
	if err != nil {
		return core.Transaction{}, false, fmt.Errorf("get transaction by key: %w", err)
	}
	txn, err := decodeTransaction(data)
	if err != nil {
		return core.Transaction{}, false, err
	}
	return txn, true, nil
}

func (s *SQLiteStore) TransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	// seq order is commit order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM transactions WHERE owner_id = ? ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get transactions for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txn, err := decodeTransaction(data)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

// conditionalWriteOutcome maps an ignored insert or a missed update to
// the version conflict every caller retries on.
func conditionalWriteOutcome(res sql.Result, e ledger.Entity) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put %s %s: %w", e.EntityKind(), e.EntityID(), err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", e.EntityKind(), e.EntityID(), core.ErrVersionConflict)
	}
	return nil
}

func decodeEntity(kind ledger.Kind, data []byte) (ledger.Entity, error) {
	switch kind {
	case ledger.KindWallet:
		var w core.Wallet
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode wallet: %w", err)
		}
		return ledger.WalletRecord{Wallet: w}, nil
	case ledger.KindBudget:
		var b core.Budget
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("decode budget: %w", err)
		}
		return ledger.BudgetRecord{Budget: b}, nil
	case ledger.KindDebt:
		var d core.Debt
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decode debt: %w", err)
		}
		return ledger.DebtRecord{Debt: d}, nil
	case ledger.KindPosition:
		var p core.Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		return ledger.PositionRecord{Position: p}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

func decodeTransaction(data []byte) (core.Transaction, error) {
	var txn core.Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return core.Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return txn, nil
}
