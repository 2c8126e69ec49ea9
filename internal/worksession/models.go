package worksession

import "time"

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

// Session is one clock-in/clock-out shift. Created on clock-in, closed
// exactly once on clock-out.
type Session struct {
	ID             string     `json:"id"`
	DriverID       string     `json:"driver_id"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	StartLatitude  float64    `json:"start_latitude"`
	StartLongitude float64    `json:"start_longitude"`
	EndLatitude    *float64   `json:"end_latitude,omitempty"`
	EndLongitude   *float64   `json:"end_longitude,omitempty"`
	Status         string     `json:"status"`
}

// SessionLog is an auditable event attached to a driver's shift,
// including timeout alerts raised by the monitor.
type SessionLog struct {
	ID        string    `json:"id"`
	DriverID  string    `json:"driver_id"`
	EventType string    `json:"event_type"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}
