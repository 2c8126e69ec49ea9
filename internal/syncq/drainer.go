package syncq

import (
	"context"
	"time"
)

// Start launches the background drainer. It runs on a fixed period and on
// explicit wakes, independently of the emission timers so a slow network
// call never stalls position sampling.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		ticker := time.NewTicker(q.cfg.DrainInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stop:
				return
			case <-ticker.C:
			case <-q.wake:
			}
			q.Drain(ctx)
		}
	}()
}

// Stop shuts the drainer down and waits for an in-flight pass to finish.
func (q *Queue) Stop() {
	close(q.stop)
	q.wg.Wait()
}

// Drain runs one full pass: migrate local items into the remote queue
// table, deliver pending remote items oldest first, then purge old synced
// rows. Safe to call directly (used on session stop for the final flush).
func (q *Queue) Drain(ctx context.Context) {
	if !q.Online() || q.remote == nil {
		return
	}

	q.migrateLocal(ctx)
	q.drainRemote(ctx)
	q.purge(ctx)

	q.mu.Lock()
	q.lastDrain = time.Now().UTC()
	q.mu.Unlock()
}

// migrateLocal moves locally stored items into the remote queue table so
// the two fallback tiers collapse into one source of truth. The local row
// is deleted only after the remote registration succeeded: move, never
// duplicate, never lose.
func (q *Queue) migrateLocal(ctx context.Context) {
	if q.store == nil {
		return
	}
	items, err := q.store.Unsynced(q.cfg.DrainBatch)
	if err != nil {
		q.setErr(err)
		return
	}

	for _, item := range items {
		rctx, cancel := context.WithTimeout(ctx, q.cfg.DeliveryTimeout)
		err := q.remote.Register(rctx, item)
		cancel()
		if err != nil {
			q.logger.Warn("local item migration failed", "item_id", item.ID, "error", err)
			q.setErr(err)
			return
		}
		if err := q.store.Delete(item.ID); err != nil {
			q.setErr(err)
			return
		}
		q.logger.Debug("migrated local item to remote queue", "item_id", item.ID, "collection", item.Collection)
	}
}

func (q *Queue) drainRemote(ctx context.Context) {
	items, err := q.remote.FetchPending(ctx, q.cfg.DrainBatch)
	if err != nil {
		q.setErr(err)
		return
	}

	// A driver's failed item blocks their newer items until the retry
	// bound flags it, preserving per-driver timestamp order at the
	// remote store.
	blocked := map[string]bool{}

	for _, item := range items {
		if blocked[item.DriverID] {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, q.cfg.DeliveryTimeout)
		err := q.remote.Apply(dctx, item)
		cancel()

		if err == nil {
			if err := q.remote.MarkSynced(ctx, item.ID, time.Now().UTC()); err != nil {
				q.setErr(err)
			}
			q.logger.Debug("synced queue item", "item_id", item.ID, "collection", item.Collection)
			continue
		}

		retries := item.RetryCount + 1
		failed := retries >= q.cfg.MaxRetries
		if recErr := q.remote.RecordFailure(ctx, item.ID, retries, err.Error(), failed); recErr != nil {
			q.setErr(recErr)
		}
		if failed {
			// Never deleted: the row stays queryable with its last error
			// so an operator can intervene.
			q.logger.Error("queue item permanently failed",
				"item_id", item.ID, "collection", item.Collection,
				"retries", retries, "error", err)
		} else {
			blocked[item.DriverID] = true
			q.logger.Warn("queue item delivery failed",
				"item_id", item.ID, "collection", item.Collection,
				"retry", retries, "max_retries", q.cfg.MaxRetries, "error", err)
		}
		q.setErr(err)
	}
}

// purge removes synced rows past the retention window, at most once per
// hour. The authoritative history lives in the target collections.
func (q *Queue) purge(ctx context.Context) {
	q.mu.Lock()
	due := time.Since(q.lastPurge) >= time.Hour
	if due {
		q.lastPurge = time.Now()
	}
	q.mu.Unlock()
	if !due {
		return
	}

	cutoff := time.Now().UTC().Add(-q.cfg.Retention)
	if err := q.remote.PurgeSynced(ctx, cutoff); err != nil {
		q.setErr(err)
	}
}

func (q *Queue) setErr(err error) {
	q.mu.Lock()
	q.lastErr = err.Error()
	q.mu.Unlock()
}
