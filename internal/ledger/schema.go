package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flash_sales (
		id            UUID PRIMARY KEY,
		product       JSONB NOT NULL DEFAULT '{}',
		total_stock   INT NOT NULL,
		current_stock INT NOT NULL CHECK (current_stock >= 0),
		start_time    TIMESTAMPTZ NOT NULL,
		end_time      TIMESTAMPTZ NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id            UUID PRIMARY KEY,
		flash_sale_id UUID NOT NULL REFERENCES flash_sales(id),
		buyer_id      TEXT NOT NULL,
		claim_id      TEXT NOT NULL,
		committed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (flash_sale_id, buyer_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id           UUID PRIMARY KEY,
		username     TEXT NOT NULL UNIQUE,
		email        TEXT NOT NULL UNIQUE,
		can_purchase BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS parked_events (
		event_id   TEXT PRIMARY KEY,
		topic      TEXT NOT NULL,
		reason     TEXT NOT NULL,
		payload    JSONB NOT NULL,
		parked_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema membuat tabel kalau belum ada. Idempotent, dipanggil saat boot.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
