package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/finbridge/venuegate/internal/pkg/apperrors"
	"github.com/jmoiron/sqlx"
)

type PostgresOrderStore struct {
	db *sqlx.DB
}

func NewPostgresOrderStore(db *sqlx.DB) *PostgresOrderStore {
	store := &PostgresOrderStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

const orderColumns = `id, idempotency_key, tenant_id, broker_id, user_id, venue, symbol,
	side, order_type, amount, price, status, filled_amount, avg_price, fees,
	external_id, settle_asset, allocated_amount, compliance_ref, failure_reason,
	created_at, updated_at`

// CreateIfAbsent claims the idempotency key and inserts the order in one
// transaction. A key claimed within the window wins; an older claim is
// taken over so a changed-market retry after the window produces a fresh
// order.
func (s *PostgresOrderStore) CreateIfAbsent(ctx context.Context, order *model.InternalOrder, window time.Duration) (*model.InternalOrder, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO order_idempotency (key, order_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, order.IdempotencyKey, order.ID, now)
	if err != nil {
		return nil, false, err
	}

	claimed, _ := result.RowsAffected()
	if claimed == 0 {
		// Try to take over a stale claim outside the window.
		cutoff := now.Add(-window)
		result, err = tx.ExecContext(ctx, `
			UPDATE order_idempotency
			SET order_id = $2, created_at = $3
			WHERE key = $1 AND created_at < $4
		`, order.IdempotencyKey, order.ID, now, cutoff)
		if err != nil {
			return nil, false, err
		}
		if taken, _ := result.RowsAffected(); taken == 0 {
			var existingID string
			if err := tx.QueryRowxContext(ctx,
				`SELECT order_id FROM order_idempotency WHERE key = $1`,
				order.IdempotencyKey).Scan(&existingID); err != nil {
				return nil, false, err
			}
			if err := tx.Commit(); err != nil {
				return nil, false, err
			}
			existing, err := s.FindByID(ctx, existingID)
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :idempotency_key, :tenant_id, :broker_id, :user_id, :venue, :symbol,
			:side, :order_type, :amount, :price, :status, :filled_amount, :avg_price, :fees,
			:external_id, :settle_asset, :allocated_amount, :compliance_ref, :failure_reason,
			:created_at, :updated_at)
	`, order); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (s *PostgresOrderStore) FindActiveByKey(ctx context.Context, key string, window time.Duration) (*model.InternalOrder, error) {
	cutoff := time.Now().UTC().Add(-window)
	var orderID string
	err := s.db.QueryRowxContext(ctx, `
		SELECT order_id FROM order_idempotency
		WHERE key = $1 AND created_at >= $2
	`, key, cutoff).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no live claim on key")
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, orderID)
}

func (s *PostgresOrderStore) Update(ctx context.Context, order *model.InternalOrder) error {
	order.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE orders SET
			status = :status, filled_amount = :filled_amount, avg_price = :avg_price,
			fees = :fees, external_id = :external_id, allocated_amount = :allocated_amount,
			compliance_ref = :compliance_ref, failure_reason = :failure_reason,
			updated_at = :updated_at
		WHERE id = :id
	`, order)
	return err
}

// Delete removes an order that never reached a venue, together with its
// idempotency claim, so a retry is not blocked for the whole window.
func (s *PostgresOrderStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_idempotency WHERE order_id = $1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresOrderStore) FindByID(ctx context.Context, id string) (*model.InternalOrder, error) {
	var order model.InternalOrder
	err := s.db.GetContext(ctx, &order,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "order %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *PostgresOrderStore) FindByExternalID(ctx context.Context, venue, externalID string) (*model.InternalOrder, error) {
	var order model.InternalOrder
	err := s.db.GetContext(ctx, &order,
		`SELECT `+orderColumns+` FROM orders WHERE venue = $1 AND external_id = $2`,
		venue, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "order %s/%s not found", venue, externalID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *PostgresOrderStore) ListOpen(ctx context.Context) ([]*model.InternalOrder, error) {
	var orders []*model.InternalOrder
	err := s.db.SelectContext(ctx, &orders, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ('submitted', 'open', 'partially_filled')
		ORDER BY created_at
	`)
	return orders, err
}

func (s *PostgresOrderStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			idempotency_key TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			broker_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			venue TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			price NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			filled_amount NUMERIC NOT NULL DEFAULT 0,
			avg_price NUMERIC NOT NULL DEFAULT 0,
			fees NUMERIC NOT NULL DEFAULT 0,
			external_id TEXT NOT NULL DEFAULT '',
			settle_asset TEXT NOT NULL DEFAULT '',
			allocated_amount NUMERIC NOT NULL DEFAULT 0,
			compliance_ref TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_idempotency (
			key TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (status) WHERE status IN ('submitted', 'open', 'partially_filled')`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_orders_external ON orders (venue, external_id)`)
	return nil
}

// Cleanup drops idempotency claims older than retention.
func (s *PostgresOrderStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := s.db.ExecContext(ctx, `DELETE FROM order_idempotency WHERE created_at < $1`, cutoff)
	return err
}
