package fare

import (
	"math"
	"time"

	"github.com/BearBump/ParkDeck/internal/models"
)

// DefaultRates are per-minute rates in whole-currency units per minute.
func DefaultRates() map[string]float64 {
	return map[string]float64{
		models.CategoryCar:        0.5,
		models.CategoryMotorcycle: 0.2,
		models.CategoryTruck:      0.7,
	}
}

type Calculator struct {
	rates           map[string]float64
	defaultCategory string
}

// New builds a calculator from a category→rate table. The default category
// must have a rate; it is the fallback for unrecognized categories.
func New(rates map[string]float64, defaultCategory string) *Calculator {
	if len(rates) == 0 {
		rates = DefaultRates()
	}
	if defaultCategory == "" {
		defaultCategory = models.CategoryCar
	}
	if _, ok := rates[defaultCategory]; !ok {
		rates[defaultCategory] = DefaultRates()[models.CategoryCar]
	}
	return &Calculator{rates: rates, defaultCategory: defaultCategory}
}

// ComputeFare returns the amount owed for the stay, in whole currency units.
// Billing is per started minute: any partial minute counts as a full one.
// An exit before entry (clock skew) is billed as zero minutes rather than
// failing. The final amount rounds half away from zero.
func (c *Calculator) ComputeFare(entryTime, exitTime time.Time, category string) int64 {
	minutes := billableMinutes(entryTime, exitTime)

	rate, ok := c.rates[category]
	if !ok {
		rate = c.rates[c.defaultCategory]
	}

	return int64(math.Round(float64(minutes) * rate))
}

func billableMinutes(entryTime, exitTime time.Time) int64 {
	d := exitTime.Sub(entryTime)
	if d <= 0 {
		return 0
	}
	return int64((d + time.Minute - 1) / time.Minute)
}
