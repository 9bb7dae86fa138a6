package parking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ParkDeck/internal/broker/messages"
	"github.com/BearBump/ParkDeck/internal/cache"
	"github.com/BearBump/ParkDeck/internal/fare"
	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/BearBump/ParkDeck/internal/storage/pgparking"
	"github.com/pkg/errors"
)

// Failure conditions surfaced to callers. The HTTP layer maps these to
// status codes; nothing here is retried by the engine itself.
var (
	ErrValidation         = errors.New("invalid input")
	ErrNotFound           = errors.New("vehicle not found")
	ErrNoSlotAvailable    = errors.New("no parking slot available")
	ErrAlreadyCheckedOut  = errors.New("vehicle already checked out")
	ErrCancelWindowClosed = errors.New("cancellation window closed")
)

const DefaultCancelWindow = 2 * time.Minute

type Repository interface {
	ClaimLowestFree(ctx context.Context) (int, error)
	Release(ctx context.Context, slotNumber int) error
	ListSlots(ctx context.Context) ([]models.Slot, error)

	CreateVehicle(ctx context.Context, in models.VehicleCreateInput, slotNumber int, entryTime time.Time) (*models.VehicleOccupancy, error)
	GetVehicleByID(ctx context.Context, id string) (*models.VehicleOccupancy, error)
	MarkCheckedOut(ctx context.Context, id string, exitTime time.Time, fareAmount int64) error
	DeleteVehicle(ctx context.Context, id string) error
	QueryVehicles(ctx context.Context, f models.VehicleFilter) ([]*models.VehicleOccupancy, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Service owns the occupancy state machine. It is the only coordinator of
// the slot pool and the vehicle ledger: every transition out of active pairs
// with exactly one slot release, and a failed registration rolls its claim
// back.
type Service struct {
	repo         Repository
	cache        cache.BytesCache
	cacheTTL     time.Duration
	calc         *fare.Calculator
	producer     Publisher
	topic        string
	cancelWindow time.Duration
	now          func() time.Time
}

func New(repo Repository, c cache.BytesCache, cacheTTL time.Duration, calc *fare.Calculator, producer Publisher, topic string, cancelWindow time.Duration) *Service {
	if cancelWindow <= 0 {
		cancelWindow = DefaultCancelWindow
	}
	return &Service{
		repo:         repo,
		cache:        c,
		cacheTTL:     cacheTTL,
		calc:         calc,
		producer:     producer,
		topic:        topic,
		cancelWindow: cancelWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register claims the lowest free slot and creates the occupancy record.
// If the ledger write fails the claim is rolled back so the slot is not
// stranded occupied-but-unowned.
func (s *Service) Register(ctx context.Context, in models.VehicleCreateInput) (*models.VehicleOccupancy, error) {
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	slotNumber, err := s.repo.ClaimLowestFree(ctx)
	if errors.Is(err, pgparking.ErrNoFreeSlot) {
		return nil, ErrNoSlotAvailable
	}
	if err != nil {
		return nil, err
	}

	v, err := s.repo.CreateVehicle(ctx, in, slotNumber, s.now())
	if err != nil {
		if relErr := s.repo.Release(ctx, slotNumber); relErr != nil {
			return nil, errors.Wrapf(err, "create vehicle (slot %d left occupied: %v)", slotNumber, relErr)
		}
		return nil, errors.Wrap(err, "create vehicle")
	}

	s.cacheSet(ctx, v)
	s.publish(ctx, messages.VehicleEvent{
		Type:       messages.VehicleRegisteredType,
		VehicleID:  v.ID,
		SlotNumber: v.SlotNumber,
		Category:   v.Category,
		EntryTime:  v.EntryTime,
		OccurredAt: s.now(),
	})

	return v, nil
}

// QuoteFare computes a provisional fare as if the vehicle left now. It
// mutates nothing and may be called repeatedly; a record that is already
// checked out quotes its fixed final fare.
func (s *Service) QuoteFare(ctx context.Context, id string) (int64, error) {
	v, err := s.getVehicle(ctx, id)
	if err != nil {
		return 0, err
	}
	if v.ExitTime != nil && v.Fare != nil {
		return *v.Fare, nil
	}
	return s.calc.ComputeFare(v.EntryTime, s.now(), v.Category), nil
}

// Checkout finalizes a stay. The fare is recomputed from the actual checkout
// instant, never from an earlier quote. The slot is released before the
// ledger write: a crash in between strands the slot free, which is claimable
// again, rather than falsely occupied, which would leak capacity.
func (s *Service) Checkout(ctx context.Context, id string) (*models.VehicleOccupancy, error) {
	v, err := s.repo.GetVehicleByID(ctx, id)
	if err != nil {
		return nil, mapVehicleErr(err)
	}
	if v.ExitTime != nil {
		return nil, ErrAlreadyCheckedOut
	}

	exitTime := s.now()
	fareAmount := s.calc.ComputeFare(v.EntryTime, exitTime, v.Category)

	if err := s.repo.Release(ctx, v.SlotNumber); err != nil {
		return nil, err
	}
	if err := s.repo.MarkCheckedOut(ctx, id, exitTime, fareAmount); err != nil {
		return nil, mapVehicleErr(err)
	}

	v.ExitTime = &exitTime
	v.Fare = &fareAmount
	s.cacheSet(ctx, v)
	s.publish(ctx, messages.VehicleEvent{
		Type:       messages.VehicleCheckedOutType,
		VehicleID:  v.ID,
		SlotNumber: v.SlotNumber,
		Category:   v.Category,
		EntryTime:  v.EntryTime,
		ExitTime:   &exitTime,
		Fare:       &fareAmount,
		OccurredAt: exitTime,
	})

	return v, nil
}

// Cancel reverses a registration at no cost. The window is enforced here,
// not just in the UI: elapsed time past the window rejects the call even if
// a stale client allows it. On success the slot is released and the record
// deleted, so it never appears in history.
func (s *Service) Cancel(ctx context.Context, id string) error {
	v, err := s.repo.GetVehicleByID(ctx, id)
	if err != nil {
		return mapVehicleErr(err)
	}
	if v.ExitTime != nil {
		return ErrAlreadyCheckedOut
	}

	now := s.now()
	if now.Sub(v.EntryTime) > s.cancelWindow {
		return ErrCancelWindowClosed
	}

	if err := s.repo.Release(ctx, v.SlotNumber); err != nil {
		return err
	}
	if err := s.repo.DeleteVehicle(ctx, id); err != nil {
		return mapVehicleErr(err)
	}

	s.cacheDel(ctx, id)
	s.publish(ctx, messages.VehicleEvent{
		Type:       messages.VehicleCancelledType,
		VehicleID:  v.ID,
		SlotNumber: v.SlotNumber,
		Category:   v.Category,
		EntryTime:  v.EntryTime,
		OccurredAt: now,
	})

	return nil
}

func (s *Service) GetVehicle(ctx context.Context, id string) (*models.VehicleOccupancy, error) {
	if id == "" {
		return nil, errors.Wrap(ErrValidation, "id is required")
	}
	return s.getVehicle(ctx, id)
}

func (s *Service) ListVehicles(ctx context.Context, f models.VehicleFilter) ([]*models.VehicleOccupancy, error) {
	switch f.Status {
	case "", models.StatusActive, models.StatusHistory:
	default:
		return nil, errors.Wrapf(ErrValidation, "unknown status %q", f.Status)
	}
	return s.repo.QueryVehicles(ctx, f)
}

func (s *Service) ListSlots(ctx context.Context) ([]models.Slot, error) {
	return s.repo.ListSlots(ctx)
}

func validateCreateInput(in models.VehicleCreateInput) error {
	for _, f := range []struct{ name, val string }{
		{"ownerName", in.OwnerName},
		{"phoneNumber", in.PhoneNumber},
		{"vehicleNumber", in.VehicleNumber},
		{"brand", in.Brand},
		{"category", in.Category},
	} {
		if f.val == "" {
			return errors.Wrapf(ErrValidation, "%s is required", f.name)
		}
	}
	return nil
}

func mapVehicleErr(err error) error {
	switch {
	case errors.Is(err, pgparking.ErrVehicleNotFound):
		return ErrNotFound
	case errors.Is(err, pgparking.ErrAlreadyCheckedOut):
		return ErrAlreadyCheckedOut
	default:
		return err
	}
}

// getVehicle reads through the best-effort cache. Active records are
// immutable until checkout, so a cached copy is always safe to serve.
func (s *Service) getVehicle(ctx context.Context, id string) (*models.VehicleOccupancy, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(id)); err == nil && ok {
			var v models.VehicleOccupancy
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	v, err := s.repo.GetVehicleByID(ctx, id)
	if err != nil {
		return nil, mapVehicleErr(err)
	}
	s.cacheSet(ctx, v)
	return v, nil
}

func (s *Service) cacheSet(ctx context.Context, v *models.VehicleOccupancy) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	b, _ := json.Marshal(v)
	_ = s.cache.Set(ctx, currentKey(v.ID), b, s.cacheTTL)
}

func (s *Service) cacheDel(ctx context.Context, id string) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	_ = s.cache.Del(ctx, currentKey(id))
}

// publish is best effort: a broker outage must not fail a checkout that the
// pool and ledger already agree on.
func (s *Service) publish(ctx context.Context, ev messages.VehicleEvent) {
	if s.producer == nil || s.topic == "" {
		return
	}
	b, _ := json.Marshal(ev)
	if err := s.producer.Publish(ctx, s.topic, []byte(ev.VehicleID), b); err != nil {
		slog.Warn("publish vehicle event failed", "type", ev.Type, "vehicle_id", ev.VehicleID, "err", err)
	}
}

func currentKey(id string) string {
	return fmt.Sprintf("vehicle:%s:current", id)
}
