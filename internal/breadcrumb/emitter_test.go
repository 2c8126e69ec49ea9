package breadcrumb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
	"github.com/thecodeguy777/jlr-dashboard/internal/track"
)

type fakeSource struct {
	snaps []Snapshot
	calls int
}

// Snapshot pops queued snapshots, repeating the final one.
func (f *fakeSource) Snapshot(context.Context) Snapshot {
	f.calls++
	if len(f.snaps) == 0 {
		return Snapshot{}
	}
	s := f.snaps[0]
	if len(f.snaps) > 1 {
		f.snaps = f.snaps[1:]
	}
	return s
}

type captureQueue struct {
	items []syncq.Item
}

func (c *captureQueue) Enqueue(_ context.Context, driverID, collection string, op syncq.Operation, payload any) (syncq.Item, error) {
	item, err := syncq.NewItem(driverID, collection, op, payload)
	if err != nil {
		return syncq.Item{}, err
	}
	c.items = append(c.items, item)
	return item, nil
}

type scheduledTask struct {
	every time.Duration
	fn    func(context.Context)
}

type fakeScheduler struct {
	tasks     map[string]scheduledTask
	schedules int
	cancels   []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: map[string]scheduledTask{}}
}

func (f *fakeScheduler) Schedule(name string, every time.Duration, fn func(context.Context)) {
	f.schedules++
	f.tasks[name] = scheduledTask{every: every, fn: fn}
}

func (f *fakeScheduler) Cancel(name string) {
	f.cancels = append(f.cancels, name)
	delete(f.tasks, name)
}

func (f *fakeScheduler) fire(t *testing.T, name string) {
	t.Helper()
	task, ok := f.tasks[name]
	if !ok {
		t.Fatalf("task %q not scheduled", name)
	}
	task.fn(context.Background())
}

type fakeHub struct {
	channels []string
	payloads [][]byte
}

func (f *fakeHub) Broadcast(channel string, payload []byte) {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, payload)
}

func testEmitterConfig() Config {
	return Config{MovingInterval: 30 * time.Second, IdleInterval: 60 * time.Second}
}

func snapAt(lat float64, moving bool) Snapshot {
	return Snapshot{
		Position: track.Position{
			Latitude:  lat,
			Longitude: 106.8,
			AccuracyM: 10,
			Timestamp: time.Now(),
			SpeedKmh:  20,
		},
		HasFix:  true,
		Moving:  moving,
		Battery: 80,
		Signal:  "4G",
	}
}

func decodeCrumb(t *testing.T, item syncq.Item) Breadcrumb {
	t.Helper()
	var crumb Breadcrumb
	if err := json.Unmarshal(item.Payload, &crumb); err != nil {
		t.Fatalf("decode breadcrumb: %v", err)
	}
	return crumb
}

func TestStartEmitsImmediatelyAndSchedules(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	hub := &fakeHub{}
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, hub, nil)

	e.Start(context.Background(), TriggerMovement)

	if !e.Enabled() {
		t.Fatalf("emitter should be enabled")
	}
	if len(queue.items) != 1 {
		t.Fatalf("expected one immediate breadcrumb, got %d", len(queue.items))
	}
	crumb := decodeCrumb(t, queue.items[0])
	if crumb.Trigger != TriggerMovement || !crumb.IsActiveRoute || !crumb.MovementDetected {
		t.Fatalf("unexpected first breadcrumb: %+v", crumb)
	}
	if crumb.BatteryLevel != 80 || crumb.SignalStatus != "4G" {
		t.Fatalf("device status missing: %+v", crumb)
	}
	task, ok := sched.tasks[emitTask]
	if !ok {
		t.Fatalf("periodic task not scheduled")
	}
	if task.every != 30*time.Second {
		t.Fatalf("movement trigger should use the moving interval, got %v", task.every)
	}
	if len(hub.channels) != 1 || hub.channels[0] != "driver-1" {
		t.Fatalf("breadcrumb not broadcast: %v", hub.channels)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)
	e.Start(context.Background(), TriggerClockIn)

	if len(queue.items) != 1 {
		t.Fatalf("second start re-emitted: %d items", len(queue.items))
	}
	if sched.schedules != 1 {
		t.Fatalf("second start rescheduled: %d", sched.schedules)
	}
}

func TestTickEmitsWithDelta(t *testing.T) {
	// Two positions 0.001 degrees of latitude apart, about 111 m.
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true), snapAt(-6.201, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)
	sched.fire(t, emitTask)

	if len(queue.items) != 2 {
		t.Fatalf("expected two breadcrumbs, got %d", len(queue.items))
	}
	crumb := decodeCrumb(t, queue.items[1])
	if crumb.Trigger != TriggerInterval {
		t.Fatalf("periodic breadcrumb trigger: %q", crumb.Trigger)
	}
	if crumb.DistanceM < 100 || crumb.DistanceM > 125 {
		t.Fatalf("delta distance out of range: %f", crumb.DistanceM)
	}
}

func TestTickSkipsWithoutFixAfterOneRetry(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)

	source.snaps = []Snapshot{{}}
	calls := source.calls
	sched.fire(t, emitTask)

	if len(queue.items) != 1 {
		t.Fatalf("fixless tick emitted a breadcrumb")
	}
	if source.calls != calls+2 {
		t.Fatalf("expected exactly one retry, got %d reads", source.calls-calls)
	}
}

func TestTickRecoversOnRetry(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)

	source.snaps = []Snapshot{{}, snapAt(-6.201, true)}
	sched.fire(t, emitTask)

	if len(queue.items) != 2 {
		t.Fatalf("retry with a fix should emit")
	}
}

func TestCadenceFollowsMotionState(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, false)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerClockIn)
	if sched.tasks[emitTask].every != 60*time.Second {
		t.Fatalf("idle start should use the idle interval")
	}

	// Driver begins moving: next tick tightens the cadence.
	source.snaps = []Snapshot{snapAt(-6.201, true)}
	sched.fire(t, emitTask)
	if sched.tasks[emitTask].every != 30*time.Second {
		t.Fatalf("moving tick should tighten cadence, got %v", sched.tasks[emitTask].every)
	}

	// Back to idle.
	source.snaps = []Snapshot{snapAt(-6.201, false)}
	sched.fire(t, emitTask)
	if sched.tasks[emitTask].every != 60*time.Second {
		t.Fatalf("idle tick should relax cadence, got %v", sched.tasks[emitTask].every)
	}
}

func TestStopEmitsFinalAndDeactivates(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)
	if err := e.Stop(context.Background(), TriggerClockOut); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if e.Enabled() {
		t.Fatalf("emitter should be disabled")
	}
	if len(sched.cancels) != 1 || sched.cancels[0] != emitTask {
		t.Fatalf("periodic task not cancelled: %v", sched.cancels)
	}
	if len(queue.items) != 3 {
		t.Fatalf("expected start, final and deactivation items, got %d", len(queue.items))
	}

	final := decodeCrumb(t, queue.items[1])
	if final.IsActiveRoute || final.Trigger != TriggerClockOut {
		t.Fatalf("unexpected final breadcrumb: %+v", final)
	}

	deactivate := queue.items[2]
	if deactivate.Operation != syncq.OpUpdate || deactivate.Collection != "gps_breadcrumbs" {
		t.Fatalf("unexpected deactivation item: %+v", deactivate)
	}
	var p struct {
		DriverID      string `json:"driver_id"`
		IsActiveRoute bool   `json:"is_active_route"`
	}
	if err := json.Unmarshal(deactivate.Payload, &p); err != nil {
		t.Fatalf("decode deactivation: %v", err)
	}
	if p.DriverID != "driver-1" || p.IsActiveRoute {
		t.Fatalf("unexpected deactivation payload: %+v", p)
	}
}

func TestTickAfterStopLeavesRouteInactive(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)
	if err := e.Stop(context.Background(), TriggerClockOut); err != nil {
		t.Fatalf("stop: %v", err)
	}
	items := len(queue.items)

	// A tick that was already running when Stop cancelled the task must
	// not append an active crumb after the route deactivation.
	e.tick(context.Background())

	if len(queue.items) != items {
		t.Fatalf("stale tick emitted after stop: %d items", len(queue.items))
	}
	last := queue.items[len(queue.items)-1]
	if last.Operation != syncq.OpUpdate {
		t.Fatalf("deactivation update must stay last, got %+v", last)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	source := &fakeSource{snaps: []Snapshot{snapAt(-6.2, true)}}
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", source, queue, sched, nil, nil)

	e.Start(context.Background(), TriggerMovement)
	if err := e.Stop(context.Background(), TriggerClockOut); err != nil {
		t.Fatalf("stop: %v", err)
	}
	items := len(queue.items)

	if err := e.Stop(context.Background(), TriggerClockOut); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if len(queue.items) != items {
		t.Fatalf("second stop produced more items")
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	queue := &captureQueue{}
	sched := newFakeScheduler()
	e := NewEmitter(testEmitterConfig(), "driver-1", &fakeSource{}, queue, sched, nil, nil)

	if err := e.Stop(context.Background(), TriggerClockOut); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(queue.items) != 0 || len(sched.cancels) != 0 {
		t.Fatalf("stop without start mutated state")
	}
}
