package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/breadcrumb"
	"github.com/thecodeguy777/jlr-dashboard/internal/config"
	"github.com/thecodeguy777/jlr-dashboard/internal/db"
	"github.com/thecodeguy777/jlr-dashboard/internal/geofence"
	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
	"github.com/thecodeguy777/jlr-dashboard/internal/track"
	"github.com/thecodeguy777/jlr-dashboard/internal/worksession"
)

var ErrNotTracking = errors.New("driver is not tracking")

const monitorTask = "timeout-monitor"

// Queue is the slice of the sync queue the engine drives.
type Queue interface {
	Enqueuer
	Online() bool
	SetOnline(online bool)
	Stats(ctx context.Context) syncq.Stats
}

// Manager owns every live tracking session, one Tracker per clocked-in
// driver. It is the single entry point the transport layer talks to
// and the execution target for remote commands.
type Manager struct {
	cfg      config.Tracking
	db       db.Querier
	queue    Queue
	sessions *worksession.Service
	monitor  *worksession.Monitor
	hub      breadcrumb.Broadcaster
	logger   *slog.Logger

	base      context.Context
	scheduler *Scheduler

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewManager(
	cfg config.Tracking,
	querier db.Querier,
	queue Queue,
	sessions *worksession.Service,
	monitor *worksession.Monitor,
	hub breadcrumb.Broadcaster,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		db:       querier,
		queue:    queue,
		sessions: sessions,
		monitor:  monitor,
		hub:      hub,
		logger:   logger,
		base:     context.Background(),
		trackers: map[string]*Tracker{},
	}
}

// Start begins the engine-wide periodic work, currently the timeout
// monitor sweep. Tracker lifetimes are bound to ctx.
func (m *Manager) Start(ctx context.Context) {
	m.base = ctx
	m.scheduler = NewScheduler(ctx)
	m.scheduler.Schedule(monitorTask, m.cfg.TimeoutCheckInterval, m.monitor.Check)
}

// Stop tears down every live tracker without closing the sessions:
// open shifts belong to the drivers and survive a process restart.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.trackers = map[string]*Tracker{}
	m.mu.Unlock()

	for _, t := range trackers {
		if err := t.Stop(ctx, breadcrumb.TriggerClockOut); err != nil {
			m.logger.Error("stop tracker", "driver_id", t.driverID, "error", err)
		}
	}
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// ExpectShift registers the deadline by which the driver should have
// clocked in. The timeout monitor raises an alert once the deadline
// plus the configured grace passes without a clock-in; clocking in
// resolves it.
func (m *Manager) ExpectShift(driverID string, startAt time.Time) {
	m.monitor.Expect(worksession.Milestone{
		Name:     "clock-in:" + driverID,
		DriverID: driverID,
		Deadline: startAt,
		Grace:    m.cfg.ClockInGrace,
	})
	m.logger.Info("shift expected", "driver_id", driverID, "start_at", startAt)
}

// ClockIn opens a work session and brings up the driver's tracker. The
// site registry refreshes here; an unreachable registry degrades to an
// empty site list rather than blocking the shift.
func (m *Manager) ClockIn(ctx context.Context, driverID string, lat, lng float64, at time.Time) (worksession.Session, error) {
	return m.clockIn(ctx, driverID, lat, lng, at, breadcrumb.TriggerClockIn)
}

func (m *Manager) clockIn(ctx context.Context, driverID string, lat, lng float64, at time.Time, trigger string) (worksession.Session, error) {
	session, err := m.sessions.ClockIn(ctx, driverID, lat, lng, at)
	if err != nil {
		return worksession.Session{}, err
	}

	sites, err := geofence.LoadSites(ctx, m.db)
	if err != nil {
		m.logger.Warn("site registry unavailable", "driver_id", driverID, "error", err)
		sites = nil
	}
	if bindings, err := geofence.LoadTaskBindings(ctx, m.db, driverID); err != nil {
		m.logger.Warn("task bindings unavailable", "driver_id", driverID, "error", err)
	} else {
		for i := range sites {
			sites[i].TaskID = bindings[sites[i].ID]
		}
	}

	arrivals := geofence.NewArrivalMarker(m.db, m.queue, m.logger)
	tracker := newTracker(m.base, driverID, session, m.cfg, sites, arrivals, m.queue, m.hub, m.logger)

	m.mu.Lock()
	m.trackers[driverID] = tracker
	m.mu.Unlock()

	tracker.start(ctx, trigger)
	m.monitor.Resolve("clock-in:" + driverID)
	return session, nil
}

// ClockOut closes the session and tears the tracker down.
func (m *Manager) ClockOut(ctx context.Context, driverID string, lat, lng float64, at time.Time) (worksession.Session, error) {
	session, err := m.sessions.ClockOut(ctx, driverID, lat, lng, at)
	if err != nil {
		return worksession.Session{}, err
	}

	m.mu.Lock()
	tracker := m.trackers[driverID]
	delete(m.trackers, driverID)
	m.mu.Unlock()

	if tracker != nil {
		if err := tracker.Stop(ctx, breadcrumb.TriggerClockOut); err != nil {
			m.logger.Error("stop tracker", "driver_id", driverID, "error", err)
		}
	}
	return session, nil
}

// Position routes a raw device sample to the driver's tracker.
func (m *Manager) Position(ctx context.Context, driverID string, raw track.Position, battery int, signal string) error {
	tracker := m.tracker(driverID)
	if tracker == nil {
		return ErrNotTracking
	}
	return tracker.Position(ctx, raw, battery, signal)
}

// SensorError reports a device-side acquisition failure (permission
// denied, unavailable, timeout).
func (m *Manager) SensorError(driverID, reason string) error {
	tracker := m.tracker(driverID)
	if tracker == nil {
		return ErrNotTracking
	}
	tracker.SensorError(reason)
	return nil
}

// SetConnectivity forwards the device's online/offline transitions to
// the sync queue; coming back online wakes the drainer.
func (m *Manager) SetConnectivity(online bool) {
	m.queue.SetOnline(online)
}

// StatusReport is the driver-facing view: live tracker state plus
// delivery backlog.
type StatusReport struct {
	Tracker *TrackerStatus       `json:"tracker,omitempty"`
	Session *worksession.Session `json:"session,omitempty"`
	Queue   syncq.Stats          `json:"queue"`
}

func (m *Manager) Status(ctx context.Context, driverID string) StatusReport {
	report := StatusReport{Queue: m.queue.Stats(ctx)}
	if session, ok := m.sessions.Active(driverID); ok {
		report.Session = &session
	}
	if tracker := m.tracker(driverID); tracker != nil {
		status := tracker.Status()
		report.Tracker = &status
	}
	return report
}

func (m *Manager) tracker(driverID string) *Tracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trackers[driverID]
}

// ForceClockIn implements command.Actions. An already-open shift makes
// it a no-op so replayed commands cannot double-open sessions.
func (m *Manager) ForceClockIn(ctx context.Context, driverID, reason string) error {
	if _, ok := m.sessions.Active(driverID); ok {
		m.logger.Info("force clock-in ignored, session already active", "driver_id", driverID)
		return nil
	}
	m.logger.Info("force clock-in", "driver_id", driverID, "reason", reason)
	_, err := m.clockIn(ctx, driverID, 0, 0, time.Now(), breadcrumb.TriggerCommand)
	return err
}

// ForceClockOut implements command.Actions, closing at the last known
// position.
func (m *Manager) ForceClockOut(ctx context.Context, driverID, reason string) error {
	var lat, lng float64
	if tracker := m.tracker(driverID); tracker != nil {
		if status := tracker.Status(); status.LastFix != nil {
			lat, lng = status.LastFix.Latitude, status.LastFix.Longitude
		}
	}
	m.logger.Info("force clock-out", "driver_id", driverID, "reason", reason)
	_, err := m.ClockOut(ctx, driverID, lat, lng, time.Now())
	return err
}

// DeliverMessage implements command.Actions: the message reaches the
// driver's live channel and lands in the session log.
func (m *Manager) DeliverMessage(ctx context.Context, driverID, message string) error {
	payload, _ := json.Marshal(map[string]string{"type": "message", "message": message})
	m.hub.Broadcast(driverID, payload)

	entry := worksession.SessionLog{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		EventType: "message",
		Note:      message,
		CreatedAt: time.Now().UTC(),
	}
	_, err := m.queue.Enqueue(ctx, driverID, "session_logs", syncq.OpInsert, entry)
	return err
}
