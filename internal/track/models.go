package track

import "time"

// Position is a single device GPS sample. Raw samples come straight off
// the position stream; filtered ones have passed Filter.Accept.
type Position struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AccuracyM float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	SpeedKmh  float64   `json:"speed_kmh,omitempty"`
}

// State is the detector's view of one tracking session.
type State struct {
	IsMoving          bool      `json:"is_moving"`
	LastPosition      *Position `json:"last_position,omitempty"`
	LastSampleTime    time.Time `json:"last_sample_time"`
	CurrentSpeedKmh   float64   `json:"current_speed_kmh"`
	MovementStartedAt time.Time `json:"movement_started_at,omitempty"`
}

// Direction of a motion state change.
type Direction string

const (
	MovementStarted Direction = "movement_started"
	MovementStopped Direction = "movement_stopped"
)

// Transition is emitted when the detector flips between idle and moving.
type Transition struct {
	Direction Direction     `json:"direction"`
	At        time.Time     `json:"at"`
	SpeedKmh  float64       `json:"speed_kmh"`
	Duration  time.Duration `json:"duration"`
	DistanceM float64       `json:"distance_m"`
	// Trigger names the path that caused the change: "speed" for an
	// instant threshold crossing, "sustained" for the slow-traffic
	// window, "cooldown" for a stop.
	Trigger string `json:"trigger"`
}
