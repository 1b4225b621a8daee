package repository

import (
	"context"
	"encoding/json"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresLedgerAuditStore struct {
	db *sqlx.DB
}

func NewPostgresLedgerAuditStore(db *sqlx.DB) *PostgresLedgerAuditStore {
	store := &PostgresLedgerAuditStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresLedgerAuditStore) Insert(ctx context.Context, entries []model.LedgerAuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		contextJSON, _ := json.Marshal(e.Context)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_audit (
				id, op, venue, asset, broker_id, user_id, amount,
				broker_before, broker_after, customer_before, customer_after,
				available_before, available_after, context, created_at
			) VALUES (
				$1,$2,$3,$4,$5,$6,$7,
				$8,$9,$10,$11,
				$12,$13,$14,$15
			)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.Op, e.Venue, e.Asset, e.BrokerID, e.UserID, e.Amount,
			e.BrokerBefore, e.BrokerAfter, e.CustomerBefore, e.CustomerAfter,
			e.AvailableBefore, e.AvailableAfter, contextJSON, e.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresLedgerAuditStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_audit (
			id TEXT PRIMARY KEY,
			op TEXT NOT NULL,
			venue TEXT NOT NULL,
			asset TEXT NOT NULL,
			broker_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			amount NUMERIC NOT NULL,
			broker_before NUMERIC NOT NULL DEFAULT 0,
			broker_after NUMERIC NOT NULL DEFAULT 0,
			customer_before NUMERIC NOT NULL DEFAULT 0,
			customer_after NUMERIC NOT NULL DEFAULT 0,
			available_before NUMERIC NOT NULL DEFAULT 0,
			available_after NUMERIC NOT NULL DEFAULT 0,
			context JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_ledger_audit_pair ON ledger_audit (venue, asset, created_at DESC)`)
	return nil
}
