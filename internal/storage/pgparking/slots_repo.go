package pgparking

import (
	"context"

	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ErrNoFreeSlot is returned by ClaimLowestFree when the pool is exhausted.
var ErrNoFreeSlot = errors.New("no free slot")

// EnsureCapacity grows the pool to at least capacity slots. New slots are
// appended free and contiguously above the current maximum; existing slots
// and their occupancy are untouched. Safe to re-run on every start.
func (s *Storage) EnsureCapacity(ctx context.Context, capacity int) error {
	if capacity <= 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO parking_slots (slot_number, is_occupied)
SELECT n, FALSE
FROM generate_series(
  (SELECT COALESCE(MAX(slot_number), 0) + 1 FROM parking_slots),
  $1
) AS n
`, capacity)
	return errors.Wrap(err, "ensure slot capacity")
}

// ClaimLowestFree marks the lowest-numbered free slot occupied and returns
// its number. The claim is a single statement over a row-locked subselect,
// so concurrent claimers can never be handed the same slot. SKIP LOCKED
// keeps claimers from queueing on a slot another transaction is touching.
func (s *Storage) ClaimLowestFree(ctx context.Context) (int, error) {
	var slotNumber int
	err := s.db.QueryRow(ctx, `
UPDATE parking_slots
SET is_occupied = TRUE
WHERE slot_number = (
  SELECT slot_number
  FROM parking_slots
  WHERE NOT is_occupied
  ORDER BY slot_number
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
RETURNING slot_number
`).Scan(&slotNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNoFreeSlot
	}
	if err != nil {
		return 0, errors.Wrap(err, "claim slot")
	}
	return slotNumber, nil
}

// Release marks the slot free. Releasing an already-free slot is a no-op.
func (s *Storage) Release(ctx context.Context, slotNumber int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE parking_slots SET is_occupied = FALSE WHERE slot_number = $1`, slotNumber)
	return errors.Wrap(err, "release slot")
}

func (s *Storage) ListSlots(ctx context.Context) ([]models.Slot, error) {
	rows, err := s.db.Query(ctx,
		`SELECT slot_number, is_occupied FROM parking_slots ORDER BY slot_number`)
	if err != nil {
		return nil, errors.Wrap(err, "select slots")
	}
	defer rows.Close()

	var out []models.Slot
	for rows.Next() {
		var sl models.Slot
		if err := rows.Scan(&sl.SlotNumber, &sl.IsOccupied); err != nil {
			return nil, errors.Wrap(err, "scan slot")
		}
		out = append(out, sl)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) FreeSlotCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM parking_slots WHERE NOT is_occupied`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count free slots")
	}
	return n, nil
}
