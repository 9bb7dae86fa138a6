package messages

import "time"

// Occupancy event types carried on the vehicle.events topic.
const (
	VehicleRegisteredType = "vehicle.registered"
	VehicleCheckedOutType = "vehicle.checked_out"
	VehicleCancelledType  = "vehicle.cancelled"
)

// VehicleEvent is published by the parking engine on every lifecycle
// transition. Only checked_out events carry ExitTime and Fare.
type VehicleEvent struct {
	Type       string `json:"type"`
	VehicleID  string `json:"vehicle_id"`
	SlotNumber int    `json:"slot_number"`
	Category   string `json:"category"`

	EntryTime time.Time  `json:"entry_time"`
	ExitTime  *time.Time `json:"exit_time,omitempty"`
	Fare      *int64     `json:"fare,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}
