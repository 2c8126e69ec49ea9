package engine

import (
	"context"
	"sync"
	"time"
)

// Scheduler owns every periodic task of one tracking session. Stop
// cancels all of them and waits, so a torn-down session cannot leak a
// timer that fires later.
type Scheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	tasks   map[string]*task
	wg      sync.WaitGroup
	stopped bool
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  map[string]*task{},
	}
}

// Schedule runs fn every interval until cancelled. Re-scheduling an
// existing name replaces its cadence without waiting for the old run:
// a task may reschedule itself from inside fn.
func (s *Scheduler) Schedule(name string, every time.Duration, fn func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}

	taskCtx, cancel := context.WithCancel(s.ctx)
	tk := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = tk

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(tk.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				return
			case <-ticker.C:
				fn(taskCtx)
			}
		}
	}()
}

// Cancel removes the named task and waits until an in-flight run of its
// fn has returned. Callers can sequence work after the last run.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	tk, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	if ok {
		tk.cancel()
		<-tk.done
	}
}

// Stop cancels every task and blocks until their goroutines exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.cancel()
	s.tasks = map[string]*task{}
	s.mu.Unlock()
	s.wg.Wait()
}

// Active reports whether a task with the name is scheduled.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}
