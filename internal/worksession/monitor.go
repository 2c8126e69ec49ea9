package worksession

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/thecodeguy777/jlr-dashboard/internal/syncq"
)

// Milestone is an operator action expected by a deadline, e.g. a
// scheduled clock-in.
type Milestone struct {
	Name     string
	DriverID string
	Deadline time.Time
	Grace    time.Duration
}

// TimeoutEvent is raised once per overdue milestone for an external
// controller to act on.
type TimeoutEvent struct {
	Milestone Milestone
	Overdue   time.Duration
	At        time.Time
}

type TimeoutHandler func(TimeoutEvent)

// Monitor watches expected-but-missing operator actions. Check runs on
// a schedule; each overdue milestone fires exactly once until resolved
// or replaced.
type Monitor struct {
	queue   Enqueuer
	handler TimeoutHandler
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	milestones map[string]Milestone
	fired      map[string]bool
}

func NewMonitor(queue Enqueuer, handler TimeoutHandler, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		queue:      queue,
		handler:    handler,
		logger:     logger,
		now:        time.Now,
		milestones: map[string]Milestone{},
		fired:      map[string]bool{},
	}
}

// Expect registers a milestone. Re-registering a name rearms it.
func (m *Monitor) Expect(ms Milestone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.milestones[ms.Name] = ms
	m.fired[ms.Name] = false
}

// Resolve clears a milestone, typically because the expected action
// happened.
func (m *Monitor) Resolve(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.milestones, name)
	delete(m.fired, name)
}

// Check raises a timeout for every milestone past deadline plus grace
// that has not fired yet. The alert goes to the handler and into the
// queue as a session log; delivery failures do not re-arm the
// milestone, the queue's own retries own that record.
func (m *Monitor) Check(ctx context.Context) {
	now := m.now()

	m.mu.Lock()
	var due []Milestone
	for name, ms := range m.milestones {
		if m.fired[name] {
			continue
		}
		if now.After(ms.Deadline.Add(ms.Grace)) {
			m.fired[name] = true
			due = append(due, ms)
		}
	}
	m.mu.Unlock()

	for _, ms := range due {
		overdue := now.Sub(ms.Deadline)
		m.logger.Warn("milestone timed out",
			"milestone", ms.Name, "driver_id", ms.DriverID, "overdue", overdue)

		entry := SessionLog{
			ID:        uuid.NewString(),
			DriverID:  ms.DriverID,
			EventType: "timeout",
			Note:      ms.Name,
			CreatedAt: now.UTC(),
		}
		if _, err := m.queue.Enqueue(ctx, ms.DriverID, "session_logs", syncq.OpInsert, entry); err != nil {
			m.logger.Error("enqueue timeout log", "milestone", ms.Name, "error", err)
		}

		if m.handler != nil {
			m.handler(TimeoutEvent{Milestone: ms, Overdue: overdue, At: now})
		}
	}
}
