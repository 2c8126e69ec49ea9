package breadcrumb

import (
	"context"
	"time"

	"github.com/thecodeguy777/jlr-dashboard/internal/track"
)

// Breadcrumb is one tracked location+status snapshot. Once handed to
// the sync queue it is never mutated; route history at the remote
// store is append-only.
type Breadcrumb struct {
	ID               string    `json:"id"`
	DriverID         string    `json:"driver_id"`
	Timestamp        time.Time `json:"timestamp"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	AccuracyM        float64   `json:"accuracy"`
	SpeedKmh         float64   `json:"speed_kmh"`
	DistanceM        float64   `json:"distance_from_last"`
	IsActiveRoute    bool      `json:"is_active_route"`
	Trigger          string    `json:"trigger_reason"`
	MovementDetected bool      `json:"movement_detected"`
	BatteryLevel     int       `json:"battery_level"`
	SignalStatus     string    `json:"signal_status"`
}

// Triggers recorded on emitted breadcrumbs.
const (
	TriggerMovement = "movement_detected"
	TriggerClockIn  = "clock_in"
	TriggerCommand  = "ghost_command"
	TriggerInterval = "interval"
	TriggerStopped  = "movement_stopped"
	TriggerClockOut = "clock_out"
)

// Snapshot is what the emitter reads on each tick: the latest filtered
// position plus device status reported alongside it.
type Snapshot struct {
	Position track.Position
	HasFix   bool
	Moving   bool
	Battery  int
	Signal   string
}

type SnapshotSource interface {
	Snapshot(ctx context.Context) Snapshot
}
