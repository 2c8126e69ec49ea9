package geofence

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/db"
	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
)

// Enqueuer is the slice of the sync queue the marker needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, driverID, collection string, op syncq.Operation, payload any) (syncq.Item, error)
}

// ArrivalMarker writes at most one arrival record per (driver, task)
// pair. A per-session memory guard suppresses repeats cheaply; the
// remote existence check catches arrivals recorded by earlier sessions.
type ArrivalMarker struct {
	db     db.Querier
	queue  Enqueuer
	logger *slog.Logger
	seen   map[string]bool
}

func NewArrivalMarker(q db.Querier, queue Enqueuer, logger *slog.Logger) *ArrivalMarker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArrivalMarker{db: q, queue: queue, logger: logger, seen: map[string]bool{}}
}

// Mark records the arrival unless one already exists. It reports
// whether a new marker was enqueued. Arrival only flags the task; it
// never completes it.
//
// If the existence check cannot reach the remote store the marker is
// enqueued anyway: losing a first arrival while offline is worse than
// a rare duplicate row, and the memory guard still dedupes within the
// session.
func (m *ArrivalMarker) Mark(ctx context.Context, ev Event, taskID string) (bool, error) {
	if taskID == "" {
		return false, nil
	}
	key := ev.DriverID + "|" + taskID
	if m.seen[key] {
		return false, nil
	}

	var exists bool
	err := m.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM task_arrivals WHERE driver_id = $1 AND task_id = $2
		)
	`, ev.DriverID, taskID).Scan(&exists)
	if err != nil {
		m.logger.Warn("arrival existence check unavailable, enqueueing anyway",
			"driver_id", ev.DriverID, "task_id", taskID, "error", err)
	} else if exists {
		m.seen[key] = true
		return false, nil
	}

	arrival := Arrival{
		ID:        uuid.NewString(),
		DriverID:  ev.DriverID,
		TaskID:    taskID,
		SiteID:    ev.SiteID,
		SiteName:  ev.SiteName,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		ArrivedAt: ev.Timestamp,
	}
	if _, err := m.queue.Enqueue(ctx, ev.DriverID, "task_arrivals", syncq.OpInsert, arrival); err != nil {
		return false, err
	}
	m.seen[key] = true
	return true, nil
}
