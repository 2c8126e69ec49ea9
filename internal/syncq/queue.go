package syncq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config bounds the delivery guarantee.
type Config struct {
	DrainInterval   time.Duration
	DrainBatch      int
	MaxRetries      int
	Retention       time.Duration
	DeliveryTimeout time.Duration
}

// Queue is the single choke point between every producer and the remote
// store. Producers append; the drainer owns retries, ordering, and cleanup.
type Queue struct {
	cfg    Config
	store  *Store
	remote RemoteStore
	logger *slog.Logger

	online atomic.Bool
	wake   chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	lastDrain time.Time
	lastErr   string
	lastPurge time.Time
}

func New(cfg Config, store *Store, remote RemoteStore, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		cfg:    cfg,
		store:  store,
		remote: remote,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	q.online.Store(true)
	return q
}

// Enqueue accepts a mutation for guaranteed delivery. When online it tries
// direct delivery first; otherwise, or on failure, it registers the item in
// the remote queue table, falling back to the durable local store when the
// control plane itself is unreachable. The returned item reports whether it
// was delivered synchronously.
func (q *Queue) Enqueue(ctx context.Context, driverID, collection string, op Operation, payload any) (Item, error) {
	item, err := NewItem(driverID, collection, op, payload)
	if err != nil {
		return Item{}, err
	}

	// Known-offline writes skip the control plane entirely: probing a
	// network the device already reported gone would stall every
	// clock-in and breadcrumb for the full delivery timeout.
	if q.Online() && q.remote != nil {
		dctx, cancel := context.WithTimeout(ctx, q.cfg.DeliveryTimeout)
		err := q.remote.Apply(dctx, item)
		cancel()
		if err == nil {
			now := time.Now().UTC()
			item.Synced = true
			item.SyncedAt = &now
			return item, nil
		}
		q.logger.Warn("direct delivery failed, queuing for retry",
			"collection", collection, "item_id", item.ID, "error", err)

		rctx, cancel := context.WithTimeout(ctx, q.cfg.DeliveryTimeout)
		regErr := q.remote.Register(rctx, item)
		cancel()
		if regErr == nil {
			return item, nil
		}
		q.logger.Warn("control plane unreachable, using local store",
			"collection", collection, "item_id", item.ID, "error", regErr)
	}

	if q.store == nil {
		return Item{}, fmt.Errorf("enqueue %s: no delivery tier available", collection)
	}
	if err := q.store.Insert(item); err != nil {
		return Item{}, fmt.Errorf("enqueue %s: %w", collection, err)
	}
	return item, nil
}

func (q *Queue) Online() bool { return q.online.Load() }

// SetOnline records a connectivity transition. Coming back online wakes the
// drainer immediately instead of waiting out the period.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if online && !was {
		q.logger.Info("connectivity restored, waking drainer")
		q.Wake()
	}
	if !online && was {
		q.logger.Info("connectivity lost, queuing locally")
	}
}

// Wake nudges the drainer outside its fixed period, e.g. when the device
// app returns to the foreground.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	stats := Stats{Online: q.Online(), LastError: q.lastErr}
	if !q.lastDrain.IsZero() {
		t := q.lastDrain
		stats.LastDrain = &t
	}
	q.mu.Unlock()

	if q.store != nil {
		if n, err := q.store.PendingCount(); err == nil {
			stats.PendingLocal = n
		}
	}
	if q.Online() && q.remote != nil {
		if n, err := q.remote.PendingCount(ctx); err == nil {
			stats.PendingRemote = n
		}
		if n, err := q.remote.FailedCount(ctx); err == nil {
			stats.FailedCount = n
		}
	}
	return stats
}
