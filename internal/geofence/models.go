package geofence

import "time"

// Site is a circular work-site zone. Loaded at session start and
// read-only afterwards.
type Site struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusM   float64 `json:"radius_meters"`
	// TaskID is set when the site has an in-progress task bound to it,
	// enabling the automatic arrival marker on entry.
	TaskID string `json:"task_id,omitempty"`
}

type Transition string

const (
	TransitionEntered Transition = "entered"
	TransitionExited  Transition = "exited"
)

// Event records a single geofence boundary crossing.
type Event struct {
	ID        string     `json:"id"`
	DriverID  string     `json:"driver_id"`
	SiteID    string     `json:"site_id"`
	SiteName  string     `json:"site_name"`
	EventType Transition `json:"event_type"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	DistanceM float64    `json:"distance_m"`
	Timestamp time.Time  `json:"timestamp"`
}

// Arrival is the idempotent marker written when a driver first enters
// the geofence of a site with an in-progress task.
type Arrival struct {
	ID        string    `json:"id"`
	DriverID  string    `json:"driver_id"`
	TaskID    string    `json:"task_id"`
	SiteID    string    `json:"site_id"`
	SiteName  string    `json:"site_name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	ArrivedAt time.Time `json:"arrived_at"`
}
