package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresReconStore struct {
	db *sqlx.DB
}

func NewPostgresReconStore(db *sqlx.DB) *PostgresReconStore {
	store := &PostgresReconStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresReconStore) Insert(ctx context.Context, rec *model.ReconciliationRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO reconciliations (id, venue, asset, actual_balance, allocated_total, difference, status, created_at)
		VALUES (:id, :venue, :asset, :actual_balance, :allocated_total, :difference, :status, :created_at)
		ON CONFLICT (id) DO NOTHING
	`, rec)
	return err
}

func (s *PostgresReconStore) List(ctx context.Context, filter model.ReconciliationFilter) ([]*model.ReconciliationRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT id, venue, asset, actual_balance, allocated_total, difference, status, created_at FROM reconciliations`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if filter.Venue != "" {
		clauses = append(clauses, fmt.Sprintf("venue = $%d", idx))
		args = append(args, filter.Venue)
		idx++
	}
	if filter.Asset != "" {
		clauses = append(clauses, fmt.Sprintf("asset = $%d", idx))
		args = append(args, filter.Asset)
		idx++
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("status = $%d", idx))
		args = append(args, filter.Status)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	var out []*model.ReconciliationRecord
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresReconStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliations (
			id TEXT PRIMARY KEY,
			venue TEXT NOT NULL,
			asset TEXT NOT NULL,
			actual_balance NUMERIC NOT NULL,
			allocated_total NUMERIC NOT NULL,
			difference NUMERIC NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_recon_pair ON reconciliations (venue, asset, created_at DESC)`)
	return nil
}
