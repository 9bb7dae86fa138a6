package models

import "time"

// Vehicle categories. Anything else is billed at the car rate.
const (
	CategoryCar        = "car"
	CategoryMotorcycle = "motorcycle"
	CategoryTruck      = "truck"
)

// Query statuses for ListVehicles. History is checked-out records only;
// cancelled registrations are deleted outright and never show up.
const (
	StatusActive  = "active"
	StatusHistory = "history"
)

type Slot struct {
	SlotNumber int
	IsOccupied bool
}

// VehicleOccupancy is one vehicle's stay: created at registration, finalized
// at checkout (ExitTime and Fare set exactly once) or removed by cancellation.
type VehicleOccupancy struct {
	ID            string
	OwnerName     string
	PhoneNumber   string
	VehicleNumber string
	Brand         string
	Category      string
	SlotNumber    int
	EntryTime     time.Time
	ExitTime      *time.Time
	Fare          *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Active reports whether the vehicle is still parked.
func (v *VehicleOccupancy) Active() bool {
	return v.ExitTime == nil
}

type VehicleCreateInput struct {
	OwnerName     string
	PhoneNumber   string
	VehicleNumber string
	Brand         string
	Category      string
}

// VehicleFilter selects ledger records. Status is "active" or "history";
// the remaining fields narrow history lookups and are ignored when zero.
type VehicleFilter struct {
	Status        string
	SlotNumber    int
	VehicleNumber string
	// Day restricts history to checkouts on this calendar day (local to the
	// timestamp's location).
	Day *time.Time
}

type DailyRevenue struct {
	Day       time.Time
	Category  string
	Checkouts int64
	TotalFare int64
}
