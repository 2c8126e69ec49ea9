package tracking

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// PositionRequest is one raw device sample. Accuracy and coordinates are
// validated here; plausibility filtering happens in the engine.
type PositionRequest struct {
	Latitude     float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64   `json:"longitude" validate:"min=-180,max=180"`
	Accuracy     float64   `json:"accuracy" validate:"gte=0"`
	SpeedKmh     float64   `json:"speed_kmh"`
	Timestamp    time.Time `json:"timestamp"`
	BatteryLevel int       `json:"battery_level" validate:"min=0,max=100"`
	SignalStatus string    `json:"signal_status"`
}

type ClockRequest struct {
	Latitude  float64   `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64   `json:"longitude" validate:"min=-180,max=180"`
	Timestamp time.Time `json:"timestamp"`
}

type SensorErrorRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type ConnectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

// ShiftScheduleRequest announces when a driver is expected to clock in,
// typically posted by dispatch for the next shift.
type ShiftScheduleRequest struct {
	DriverID  string    `json:"driver_id" validate:"required"`
	StartTime time.Time `json:"start_time" validate:"required"`
}
