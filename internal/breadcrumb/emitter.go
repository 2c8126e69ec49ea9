package breadcrumb

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/shared/geo"
	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
)

const emitTask = "breadcrumb-emit"

type Config struct {
	MovingInterval time.Duration
	IdleInterval   time.Duration
}

// Scheduler runs a named periodic task. Scheduling an existing name
// replaces its cadence.
type Scheduler interface {
	Schedule(name string, every time.Duration, fn func(context.Context))
	Cancel(name string)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, driverID, collection string, op syncq.Operation, payload any) (syncq.Item, error)
}

type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Emitter periodically records breadcrumbs for one driver while a
// tracking condition holds. Cadence follows motion state: a shorter
// interval while moving, a longer one while merely clocked in.
type Emitter struct {
	cfg       Config
	driverID  string
	source    SnapshotSource
	queue     Enqueuer
	scheduler Scheduler
	hub       Broadcaster
	logger    *slog.Logger

	mu       sync.Mutex
	enabled  bool
	interval time.Duration
	last     *Breadcrumb
}

func NewEmitter(cfg Config, driverID string, source SnapshotSource, queue Enqueuer, scheduler Scheduler, hub Broadcaster, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		cfg:       cfg,
		driverID:  driverID,
		source:    source,
		queue:     queue,
		scheduler: scheduler,
		hub:       hub,
		logger:    logger,
	}
}

// Start emits one breadcrumb immediately, tagged with the trigger, then
// schedules periodic emission. Calling Start while already running is a
// no-op.
func (e *Emitter) Start(ctx context.Context, trigger string) {
	e.mu.Lock()
	if e.enabled {
		e.mu.Unlock()
		return
	}
	e.enabled = true
	e.interval = e.intervalFor(trigger == TriggerMovement)
	interval := e.interval
	e.mu.Unlock()

	if snap, ok := e.capture(ctx); ok {
		e.emit(ctx, snap, trigger, true)
	}
	e.scheduler.Schedule(emitTask, interval, e.tick)
	e.logger.Info("breadcrumb emitter started", "driver_id", e.driverID, "trigger", trigger, "interval", interval)
}

// Stop cancels the periodic task, records one final inactive breadcrumb
// tagged with the reason, and enqueues the update that deactivates the
// driver's previously-active route rows. Idempotent.
func (e *Emitter) Stop(ctx context.Context, reason string) error {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil
	}
	e.enabled = false
	e.mu.Unlock()

	e.scheduler.Cancel(emitTask)

	if snap, ok := e.capture(ctx); ok {
		e.emit(ctx, snap, reason, false)
	}
	e.mu.Lock()
	e.last = nil
	e.mu.Unlock()

	deactivate := map[string]any{
		"driver_id":       e.driverID,
		"is_active_route": false,
	}
	if _, err := e.queue.Enqueue(ctx, e.driverID, "gps_breadcrumbs", syncq.OpUpdate, deactivate); err != nil {
		return err
	}
	e.logger.Info("breadcrumb emitter stopped", "driver_id", e.driverID, "reason", reason)
	return nil
}

func (e *Emitter) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// Last returns the most recent breadcrumb of the running session.
func (e *Emitter) Last() *Breadcrumb {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	crumb := *e.last
	return &crumb
}

func (e *Emitter) tick(ctx context.Context) {
	snap, ok := e.capture(ctx)
	if !ok {
		return
	}
	// A tick racing Stop must not append an active crumb after the
	// final inactive one and the route deactivation.
	e.mu.Lock()
	enabled := e.enabled
	e.mu.Unlock()
	if !enabled {
		return
	}
	e.emit(ctx, snap, TriggerInterval, true)

	// Follow motion state: reschedule when the desired cadence changed.
	e.mu.Lock()
	desired := e.intervalFor(snap.Moving)
	changed := e.enabled && desired != e.interval
	if changed {
		e.interval = desired
	}
	e.mu.Unlock()
	if changed {
		e.scheduler.Schedule(emitTask, desired, e.tick)
	}
}

// capture reads the current snapshot, retrying once when no fix is
// available. A tick without a fix is skipped, never fabricated.
func (e *Emitter) capture(ctx context.Context) (Snapshot, bool) {
	snap := e.source.Snapshot(ctx)
	if !snap.HasFix {
		snap = e.source.Snapshot(ctx)
	}
	if !snap.HasFix {
		e.logger.Warn("no position fix, skipping breadcrumb", "driver_id", e.driverID)
		return Snapshot{}, false
	}
	return snap, true
}

func (e *Emitter) emit(ctx context.Context, snap Snapshot, trigger string, active bool) {
	e.mu.Lock()
	prev := e.last
	e.mu.Unlock()

	crumb := Breadcrumb{
		ID:               uuid.NewString(),
		DriverID:         e.driverID,
		Timestamp:        snap.Position.Timestamp.UTC(),
		Latitude:         snap.Position.Latitude,
		Longitude:        snap.Position.Longitude,
		AccuracyM:        snap.Position.AccuracyM,
		SpeedKmh:         snap.Position.SpeedKmh,
		IsActiveRoute:    active,
		Trigger:          trigger,
		MovementDetected: snap.Moving,
		BatteryLevel:     snap.Battery,
		SignalStatus:     snap.Signal,
	}
	if prev != nil {
		crumb.DistanceM = geo.DistanceM(prev.Latitude, prev.Longitude, crumb.Latitude, crumb.Longitude)
		if crumb.SpeedKmh == 0 {
			crumb.SpeedKmh = geo.SpeedKmh(crumb.DistanceM, crumb.Timestamp.Sub(prev.Timestamp))
		}
	}

	if _, err := e.queue.Enqueue(ctx, e.driverID, "gps_breadcrumbs", syncq.OpInsert, crumb); err != nil {
		e.logger.Error("enqueue breadcrumb", "driver_id", e.driverID, "error", err)
		return
	}

	e.mu.Lock()
	e.last = &crumb
	e.mu.Unlock()

	if e.hub != nil {
		payload, _ := json.Marshal(crumb)
		e.hub.Broadcast(e.driverID, payload)
	}
}

func (e *Emitter) intervalFor(moving bool) time.Duration {
	if moving {
		return e.cfg.MovingInterval
	}
	return e.cfg.IdleInterval
}
