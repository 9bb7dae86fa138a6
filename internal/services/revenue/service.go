package revenue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/ParkDeck/internal/broker/messages"
	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	AddCheckoutRevenue(ctx context.Context, exitTime time.Time, category string, fareAmount int64) error
	ListDailyRevenue(ctx context.Context, from, to time.Time) ([]models.DailyRevenue, error)
}

// Service folds checked-out occupancy events into daily revenue rollups.
type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// ApplyEvent handles one message from the vehicle.events topic. Events other
// than checkouts carry no revenue and are acknowledged without effect.
func (s *Service) ApplyEvent(ctx context.Context, raw []byte) error {
	var ev messages.VehicleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return errors.Wrap(err, "decode vehicle event")
	}
	if ev.Type != messages.VehicleCheckedOutType {
		return nil
	}
	if ev.VehicleID == "" {
		return errors.New("vehicle_id is required")
	}
	if ev.ExitTime == nil || ev.Fare == nil {
		return errors.New("checked_out event missing exit_time or fare")
	}

	category := ev.Category
	if category == "" {
		category = models.CategoryCar
	}
	return s.repo.AddCheckoutRevenue(ctx, *ev.ExitTime, category, *ev.Fare)
}

func (s *Service) ListDaily(ctx context.Context, from, to time.Time) ([]models.DailyRevenue, error) {
	if to.Before(from) {
		return nil, errors.New("to is before from")
	}
	return s.repo.ListDailyRevenue(ctx, from, to)
}
