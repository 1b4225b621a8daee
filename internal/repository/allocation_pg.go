package repository

import (
	"context"
	"encoding/json"

	"github.com/finbridge/venuegate/internal/model"
	"github.com/jmoiron/sqlx"
)

type PostgresAllocationStore struct {
	db *sqlx.DB
}

func NewPostgresAllocationStore(db *sqlx.DB) *PostgresAllocationStore {
	store := &PostgresAllocationStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

// Save upserts one row per (venue, asset) with the full allocation as
// jsonb. The snapshot is small so full rewrites beat row-level diffs.
func (s *PostgresAllocationStore) Save(ctx context.Context, allocs []model.PlatformAllocation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, alloc := range allocs {
		payload, err := json.Marshal(alloc)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO allocations (venue, asset, snapshot, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (venue, asset) DO UPDATE
			SET snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
		`, alloc.Venue, alloc.Asset, payload, alloc.LastUpdated); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresAllocationStore) Load(ctx context.Context) ([]model.PlatformAllocation, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT snapshot FROM allocations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlatformAllocation
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var alloc model.PlatformAllocation
		if err := json.Unmarshal(payload, &alloc); err != nil {
			return nil, err
		}
		out = append(out, alloc)
	}
	return out, rows.Err()
}

func (s *PostgresAllocationStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS allocations (
			venue TEXT NOT NULL,
			asset TEXT NOT NULL,
			snapshot JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (venue, asset)
		)
	`)
	return err
}
