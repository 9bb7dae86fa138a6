package pgparking

import (
	"context"
	"time"

	"github.com/BearBump/ParkDeck/internal/models"
	"github.com/pkg/errors"
)

// AddCheckoutRevenue folds one checkout into the per-day, per-category
// rollup. The day bucket is taken from the exit time in UTC.
func (s *Storage) AddCheckoutRevenue(ctx context.Context, exitTime time.Time, category string, fareAmount int64) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO daily_revenue (day, category, checkouts, total_fare, updated_at)
VALUES ($1::date, $2, 1, $3, now())
ON CONFLICT (day, category)
DO UPDATE SET
  checkouts = daily_revenue.checkouts + 1,
  total_fare = daily_revenue.total_fare + EXCLUDED.total_fare,
  updated_at = now()
`, exitTime.UTC(), category, fareAmount)
	return errors.Wrap(err, "add checkout revenue")
}

func (s *Storage) ListDailyRevenue(ctx context.Context, from, to time.Time) ([]models.DailyRevenue, error) {
	rows, err := s.db.Query(ctx, `
SELECT day, category, checkouts, total_fare
FROM daily_revenue
WHERE day >= $1::date AND day <= $2::date
ORDER BY day DESC, category
`, from.UTC(), to.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "select daily revenue")
	}
	defer rows.Close()

	var out []models.DailyRevenue
	for rows.Next() {
		var r models.DailyRevenue
		if err := rows.Scan(&r.Day, &r.Category, &r.Checkouts, &r.TotalFare); err != nil {
			return nil, errors.Wrap(err, "scan daily revenue")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
