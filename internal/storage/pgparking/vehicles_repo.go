package pgparking

import (
	"context"
	"strconv"
	"time"

	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var (
	ErrVehicleNotFound = errors.New("vehicle not found")
	// ErrAlreadyCheckedOut means the record is terminal: its exit time and
	// fare were set by an earlier checkout and will never change.
	ErrAlreadyCheckedOut = errors.New("vehicle already checked out")
)

const vehicleColumns = `
  id, owner_name, phone_number, vehicle_number, brand, category,
  slot_number, entry_time, exit_time, parking_fare, created_at, updated_at`

// CreateVehicle persists a new active occupancy and returns it with its
// generated id.
func (s *Storage) CreateVehicle(ctx context.Context, in models.VehicleCreateInput, slotNumber int, entryTime time.Time) (*models.VehicleOccupancy, error) {
	now := time.Now().UTC()
	v := &models.VehicleOccupancy{
		ID:            uuid.NewString(),
		OwnerName:     in.OwnerName,
		PhoneNumber:   in.PhoneNumber,
		VehicleNumber: in.VehicleNumber,
		Brand:         in.Brand,
		Category:      in.Category,
		SlotNumber:    slotNumber,
		EntryTime:     entryTime.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO vehicles (
  id, owner_name, phone_number, vehicle_number, brand, category,
  slot_number, entry_time, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
`, v.ID, v.OwnerName, v.PhoneNumber, v.VehicleNumber, v.Brand, v.Category,
		v.SlotNumber, v.EntryTime, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert vehicle")
	}
	return v, nil
}

func (s *Storage) GetVehicleByID(ctx context.Context, id string) (*models.VehicleOccupancy, error) {
	row := s.db.QueryRow(ctx, `SELECT`+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	v, err := scanVehicle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select vehicle")
	}
	return v, nil
}

// MarkCheckedOut transitions an active record to checked_out. The row is
// locked for the duration so a racing second checkout observes the terminal
// state instead of overwriting the first fare.
func (s *Storage) MarkCheckedOut(ctx context.Context, id string, exitTime time.Time, fareAmount int64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existingExit *time.Time
	err = tx.QueryRow(ctx,
		`SELECT exit_time FROM vehicles WHERE id = $1 FOR UPDATE`, id).Scan(&existingExit)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVehicleNotFound
	}
	if err != nil {
		return errors.Wrap(err, "select vehicle for checkout")
	}
	if existingExit != nil {
		return ErrAlreadyCheckedOut
	}

	_, err = tx.Exec(ctx, `
UPDATE vehicles
SET exit_time = $2, parking_fare = $3, updated_at = now()
WHERE id = $1
`, id, exitTime.UTC(), fareAmount)
	if err != nil {
		return errors.Wrap(err, "mark checked out")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

// DeleteVehicle removes a record entirely. Used only by cancellation.
func (s *Storage) DeleteVehicle(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM vehicles WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete vehicle")
	}
	if tag.RowsAffected() == 0 {
		return ErrVehicleNotFound
	}
	return nil
}

// QueryVehicles re-evaluates the filter against current state on every call.
// Results are ordered by entry time descending.
func (s *Storage) QueryVehicles(ctx context.Context, f models.VehicleFilter) ([]*models.VehicleOccupancy, error) {
	q := `SELECT` + vehicleColumns + ` FROM vehicles WHERE TRUE`
	var args []any

	switch f.Status {
	case models.StatusActive:
		q += ` AND exit_time IS NULL`
	case models.StatusHistory:
		q += ` AND exit_time IS NOT NULL`
	}

	if f.SlotNumber > 0 {
		args = append(args, f.SlotNumber)
		q += ` AND slot_number = $` + strconv.Itoa(len(args))
	}
	if f.VehicleNumber != "" {
		args = append(args, "%"+f.VehicleNumber+"%")
		q += ` AND vehicle_number ILIKE $` + strconv.Itoa(len(args))
	}
	if f.Day != nil {
		dayStart := time.Date(f.Day.Year(), f.Day.Month(), f.Day.Day(), 0, 0, 0, 0, f.Day.Location())
		args = append(args, dayStart)
		q += ` AND exit_time >= $` + strconv.Itoa(len(args))
		args = append(args, dayStart.AddDate(0, 0, 1))
		q += ` AND exit_time < $` + strconv.Itoa(len(args))
	}

	q += ` ORDER BY entry_time DESC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select vehicles")
	}
	defer rows.Close()

	var out []*models.VehicleOccupancy
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan vehicle")
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func scanVehicle(row pgx.Row) (*models.VehicleOccupancy, error) {
	var v models.VehicleOccupancy
	var exitTime *time.Time
	var fareAmount *int64
	if err := row.Scan(
		&v.ID, &v.OwnerName, &v.PhoneNumber, &v.VehicleNumber, &v.Brand, &v.Category,
		&v.SlotNumber, &v.EntryTime, &exitTime, &fareAmount, &v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		return nil, err
	}
	v.ExitTime = exitTime
	v.Fare = fareAmount
	return &v, nil
}
