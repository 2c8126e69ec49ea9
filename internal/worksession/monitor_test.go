package worksession

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
)

func newTestMonitor(handler TimeoutHandler) (*Monitor, *captureQueue, *time.Time) {
	queue := &captureQueue{}
	m := NewMonitor(queue, handler, nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	clock := &now
	m.now = func() time.Time { return *clock }
	return m, queue, clock
}

func TestCheckFiresOverdueMilestoneOnce(t *testing.T) {
	var events []TimeoutEvent
	m, queue, clock := newTestMonitor(func(ev TimeoutEvent) { events = append(events, ev) })

	m.Expect(Milestone{
		Name:     "clock-in",
		DriverID: "driver-1",
		Deadline: clock.Add(10 * time.Minute),
		Grace:    5 * time.Minute,
	})

	// Within deadline plus grace: nothing fires.
	*clock = clock.Add(14 * time.Minute)
	m.Check(context.Background())
	if len(events) != 0 || len(queue.items) != 0 {
		t.Fatalf("fired before grace elapsed")
	}

	// Past the grace window: fires exactly once.
	*clock = clock.Add(2 * time.Minute)
	m.Check(context.Background())
	if len(events) != 1 {
		t.Fatalf("expected one timeout event, got %d", len(events))
	}
	if events[0].Milestone.Name != "clock-in" || events[0].Overdue < 6*time.Minute {
		t.Fatalf("unexpected event: %+v", events[0])
	}

	if len(queue.items) != 1 {
		t.Fatalf("expected one session log, got %d", len(queue.items))
	}
	item := queue.items[0]
	if item.Collection != "session_logs" || item.Operation != syncq.OpInsert {
		t.Fatalf("unexpected item: %+v", item)
	}
	var entry SessionLog
	if err := json.Unmarshal(item.Payload, &entry); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if entry.EventType != "timeout" || entry.Note != "clock-in" || entry.DriverID != "driver-1" {
		t.Fatalf("unexpected log entry: %+v", entry)
	}

	// Repeated checks stay quiet.
	*clock = clock.Add(time.Hour)
	m.Check(context.Background())
	m.Check(context.Background())
	if len(events) != 1 || len(queue.items) != 1 {
		t.Fatalf("milestone fired more than once")
	}
}

func TestResolveBeforeDeadlineSuppressesTimeout(t *testing.T) {
	var events []TimeoutEvent
	m, queue, clock := newTestMonitor(func(ev TimeoutEvent) { events = append(events, ev) })

	m.Expect(Milestone{Name: "clock-in", DriverID: "driver-1", Deadline: clock.Add(10 * time.Minute)})
	m.Resolve("clock-in")

	*clock = clock.Add(time.Hour)
	m.Check(context.Background())
	if len(events) != 0 || len(queue.items) != 0 {
		t.Fatalf("resolved milestone still fired")
	}
}

func TestExpectRearmsMilestone(t *testing.T) {
	var events []TimeoutEvent
	m, _, clock := newTestMonitor(func(ev TimeoutEvent) { events = append(events, ev) })

	m.Expect(Milestone{Name: "clock-in", DriverID: "driver-1", Deadline: clock.Add(time.Minute)})
	*clock = clock.Add(5 * time.Minute)
	m.Check(context.Background())
	if len(events) != 1 {
		t.Fatalf("expected first timeout")
	}

	// Next day's milestone under the same name arms again.
	m.Expect(Milestone{Name: "clock-in", DriverID: "driver-1", Deadline: clock.Add(time.Minute)})
	m.Check(context.Background())
	if len(events) != 1 {
		t.Fatalf("rearmed milestone fired early")
	}
	*clock = clock.Add(5 * time.Minute)
	m.Check(context.Background())
	if len(events) != 2 {
		t.Fatalf("rearmed milestone did not fire")
	}
}

func TestCheckHandlesMultipleDrivers(t *testing.T) {
	var events []TimeoutEvent
	m, queue, clock := newTestMonitor(func(ev TimeoutEvent) { events = append(events, ev) })

	m.Expect(Milestone{Name: "clock-in:driver-1", DriverID: "driver-1", Deadline: clock.Add(time.Minute)})
	m.Expect(Milestone{Name: "clock-in:driver-2", DriverID: "driver-2", Deadline: clock.Add(time.Hour)})

	*clock = clock.Add(10 * time.Minute)
	m.Check(context.Background())
	if len(events) != 1 || events[0].Milestone.DriverID != "driver-1" {
		t.Fatalf("expected only driver-1 to time out, got %+v", events)
	}
	if len(queue.items) != 1 {
		t.Fatalf("expected one log entry")
	}
}
