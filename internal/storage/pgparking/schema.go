package pgparking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS parking_slots (
  slot_number INT PRIMARY KEY CHECK (slot_number > 0),
  is_occupied BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`
CREATE TABLE IF NOT EXISTS vehicles (
  id UUID PRIMARY KEY,
  owner_name TEXT NOT NULL,
  phone_number TEXT NOT NULL,
  vehicle_number TEXT NOT NULL,
  brand TEXT NOT NULL,
  category TEXT NOT NULL,
  slot_number INT NOT NULL,
  entry_time TIMESTAMPTZ NOT NULL,
  exit_time TIMESTAMPTZ NULL,
  parking_fare BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_entry_time ON vehicles(entry_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_exit_time ON vehicles(exit_time)`,
		// Only one active occupancy may reference a slot at a time.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_vehicles_active_slot ON vehicles(slot_number) WHERE exit_time IS NULL`,
		`
CREATE TABLE IF NOT EXISTS daily_revenue (
  day DATE NOT NULL,
  category TEXT NOT NULL,
  checkouts BIGINT NOT NULL DEFAULT 0,
  total_fare BIGINT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (day, category)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
