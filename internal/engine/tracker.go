package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/breadcrumb"
	"github.com/thecodeguy777/jlr-dashboard/internal/config"
	"github.com/thecodeguy777/jlr-dashboard/internal/geofence"
	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
	"github.com/thecodeguy777/jlr-dashboard/internal/track"
	"github.com/thecodeguy777/jlr-dashboard/internal/worksession"
)

var ErrTrackerStopped = errors.New("tracking session already stopped")

const integrityTask = "session-integrity"

type Enqueuer interface {
	Enqueue(ctx context.Context, driverID, collection string, op syncq.Operation, payload any) (syncq.Item, error)
}

// Tracker is one driver's live tracking session: the filter, detector,
// geofence evaluator and breadcrumb emitter wired together. Created at
// clock-in, torn down at clock-out; a stopped tracker rejects further
// input instead of silently resurrecting state.
type Tracker struct {
	driverID string
	session  worksession.Session
	cfg      config.Tracking
	logger   *slog.Logger

	filter    *track.Filter
	detector  *track.Detector
	evaluator *geofence.Evaluator
	arrivals  *geofence.ArrivalMarker
	emitter   *breadcrumb.Emitter
	scheduler *Scheduler
	queue     Enqueuer

	// site id -> in-progress task id, fixed at session start
	tasks map[string]string

	mu           sync.Mutex
	stopped      bool
	gpsAvailable bool
	lastFix      *track.Position
	lastFixAt    time.Time
	battery      int
	signal       string
}

func newTracker(
	parent context.Context,
	driverID string,
	session worksession.Session,
	cfg config.Tracking,
	sites []geofence.Site,
	arrivals *geofence.ArrivalMarker,
	queue Enqueuer,
	hub breadcrumb.Broadcaster,
	logger *slog.Logger,
) *Tracker {
	t := &Tracker{
		driverID:  driverID,
		session:   session,
		cfg:       cfg,
		logger:    logger,
		queue:     queue,
		arrivals:  arrivals,
		scheduler: NewScheduler(parent),
		tasks:     map[string]string{},
	}

	t.filter = track.NewFilter(track.FilterConfig{
		AccuracyMaxM:    cfg.AccuracyMaxM,
		MaxSpeedKmh:     cfg.FilterMaxSpeedKmh,
		MaxJumpM:        cfg.FilterMaxJumpM,
		SmoothingWindow: cfg.SmoothingWindow,
	}, logger)

	t.detector = track.NewDetector(track.DetectorConfig{
		AccuracyMaxM:       cfg.AccuracyMaxM,
		SpeedThresholdKmh:  cfg.SpeedThresholdKmh,
		TrafficMinKmh:      cfg.TrafficMinKmh,
		TrafficWindow:      cfg.TrafficWindow,
		TrafficWindowDistM: cfg.TrafficWindowDistM,
		Cooldown:           cfg.Cooldown,
		HistorySize:        cfg.HistorySize,
	}, logger)

	t.evaluator = geofence.NewEvaluator(driverID, cfg.GeofenceDefaultRadiusM)
	t.evaluator.SetSites(sites)
	for _, site := range sites {
		if site.TaskID != "" {
			t.tasks[site.ID] = site.TaskID
		}
	}

	t.emitter = breadcrumb.NewEmitter(breadcrumb.Config{
		MovingInterval: cfg.MovingInterval,
		IdleInterval:   cfg.IdleInterval,
	}, driverID, t, queue, t.scheduler, hub, logger)

	return t
}

// start brings the session live: the first breadcrumb goes out
// immediately and the integrity sweep begins.
func (t *Tracker) start(ctx context.Context, trigger string) {
	t.emitter.Start(ctx, trigger)
	t.scheduler.Schedule(integrityTask, t.cfg.IntegrityInterval, t.integritySweep)
}

// Position feeds one raw device sample through the pipeline. Filter
// rejections are dropped from the data path without error; only a
// stopped tracker refuses input.
func (t *Tracker) Position(ctx context.Context, raw track.Position, battery int, signal string) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrTrackerStopped
	}
	t.battery, t.signal = battery, signal
	// The sensor produced a sample, so acquisition works even if the
	// data turns out implausible.
	t.gpsAvailable = true

	filtered, err := t.filter.Accept(raw)
	if err != nil {
		t.mu.Unlock()
		return nil
	}
	t.lastFix = &filtered
	t.lastFixAt = time.Now()

	transition := t.detector.Observe(filtered)
	events := t.evaluator.Evaluate(filtered.Latitude, filtered.Longitude, filtered.Timestamp)
	t.mu.Unlock()

	if transition != nil {
		t.handleTransition(ctx, transition)
	}
	for _, ev := range events {
		t.handleGeofence(ctx, ev)
	}
	return nil
}

// SensorError degrades tracking instead of failing it: the emitter
// starts skipping ticks until a position arrives again.
func (t *Tracker) SensorError(reason string) {
	t.mu.Lock()
	t.gpsAvailable = false
	t.mu.Unlock()
	t.logger.Warn("position source degraded", "driver_id", t.driverID, "reason", reason)
}

// Snapshot implements breadcrumb.SnapshotSource.
func (t *Tracker) Snapshot(ctx context.Context) breadcrumb.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.gpsAvailable || t.lastFix == nil {
		return breadcrumb.Snapshot{}
	}
	state := t.detector.State()
	return breadcrumb.Snapshot{
		Position: *t.lastFix,
		HasFix:   true,
		Moving:   state.IsMoving,
		Battery:  t.battery,
		Signal:   t.signal,
	}
}

func (t *Tracker) handleTransition(ctx context.Context, tr *track.Transition) {
	t.logger.Info("motion state changed",
		"driver_id", t.driverID, "direction", tr.Direction,
		"speed_kmh", tr.SpeedKmh, "trigger", tr.Trigger)

	if tr.Direction == track.MovementStarted {
		// No-op while the emitter already runs; cadence tightens on the
		// next tick either way.
		t.emitter.Start(ctx, breadcrumb.TriggerMovement)
	}

	entry := worksession.SessionLog{
		ID:        uuid.NewString(),
		DriverID:  t.driverID,
		EventType: string(tr.Direction),
		Note:      fmt.Sprintf("%.1f km/h, %.0f m, %s trigger", tr.SpeedKmh, tr.DistanceM, tr.Trigger),
		CreatedAt: tr.At.UTC(),
	}
	if _, err := t.queue.Enqueue(ctx, t.driverID, "session_logs", syncq.OpInsert, entry); err != nil {
		t.logger.Error("enqueue motion event", "driver_id", t.driverID, "error", err)
	}
}

func (t *Tracker) handleGeofence(ctx context.Context, ev geofence.Event) {
	t.logger.Info("geofence crossing",
		"driver_id", t.driverID, "site", ev.SiteName, "transition", ev.EventType)

	if _, err := t.queue.Enqueue(ctx, t.driverID, "geofence_events", syncq.OpInsert, ev); err != nil {
		t.logger.Error("enqueue geofence event", "driver_id", t.driverID, "error", err)
	}

	if ev.EventType != geofence.TransitionEntered {
		return
	}
	taskID := t.tasks[ev.SiteID]
	if taskID == "" {
		return
	}
	if _, err := t.arrivals.Mark(ctx, ev, taskID); err != nil {
		t.logger.Error("mark arrival", "driver_id", t.driverID, "task_id", taskID, "error", err)
	}
}

// integritySweep is the session's self-check: a fix that stopped
// arriving flips the availability flag, and an emitter that should be
// running is restarted.
func (t *Tracker) integritySweep(ctx context.Context) {
	staleAfter := 2 * t.cfg.IdleInterval

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if t.gpsAvailable && !t.lastFixAt.IsZero() && time.Since(t.lastFixAt) > staleAfter {
		t.gpsAvailable = false
		t.logger.Warn("position fix went stale", "driver_id", t.driverID, "last_fix_at", t.lastFixAt)
	}
	t.mu.Unlock()

	if !t.emitter.Enabled() {
		t.logger.Warn("emitter found stopped during open session, restarting", "driver_id", t.driverID)
		t.emitter.Start(ctx, breadcrumb.TriggerClockIn)
	}
}

// Stop tears the session down: final breadcrumb, route deactivation,
// every timer cancelled synchronously, derived state cleared.
func (t *Tracker) Stop(ctx context.Context, reason string) error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	t.mu.Unlock()

	err := t.emitter.Stop(ctx, reason)
	t.scheduler.Stop()

	t.mu.Lock()
	t.detector.Reset()
	t.filter.Reset()
	t.evaluator.Reset()
	t.lastFix = nil
	t.mu.Unlock()
	return err
}

// TrackerStatus is a point-in-time view of one live session.
type TrackerStatus struct {
	DriverID       string          `json:"driver_id"`
	SessionID      string          `json:"session_id"`
	IsMoving       bool            `json:"is_moving"`
	SpeedKmh       float64         `json:"speed_kmh"`
	GPSAvailable   bool            `json:"gps_available"`
	EmitterRunning bool            `json:"emitter_running"`
	LastFix        *track.Position `json:"last_fix,omitempty"`
}

func (t *Tracker) Status() TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := t.detector.State()
	status := TrackerStatus{
		DriverID:       t.driverID,
		SessionID:      t.session.ID,
		IsMoving:       state.IsMoving,
		SpeedKmh:       state.CurrentSpeedKmh,
		GPSAvailable:   t.gpsAvailable,
		EmitterRunning: t.emitter.Enabled(),
	}
	if t.lastFix != nil {
		fix := *t.lastFix
		status.LastFix = &fix
	}
	return status
}
