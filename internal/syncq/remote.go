package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thecodeguy777/jlr-dashboard/internal/db"
)

var (
	ErrUnknownCollection = errors.New("unknown target collection")
	ErrUnknownOperation  = errors.New("unknown queue operation")
)

// RemoteStore is the control plane the drainer talks to: direct delivery
// into the target collections plus the remote-visible sync_queue table.
type RemoteStore interface {
	Apply(ctx context.Context, item Item) error
	Register(ctx context.Context, item Item) error
	FetchPending(ctx context.Context, limit int) ([]Item, error)
	MarkSynced(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, retryCount int, lastErr string, failed bool) error
	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)
	PurgeSynced(ctx context.Context, cutoff time.Time) error
}

// insertTargets are the collections the queue may insert into. Inserts are
// keyed on the client-generated id, so a replay after a lost ack lands on
// the conflict clause instead of creating a second row.
var insertTargets = map[string]struct{}{
	"gps_breadcrumbs": {},
	"geofence_events": {},
	"task_arrivals":   {},
	"work_sessions":   {},
	"session_logs":    {},
	"delivery_logs":   {},
}

type Remote struct {
	db db.Querier
}

func NewRemote(q db.Querier) *Remote {
	return &Remote{db: q}
}

func (r *Remote) Apply(ctx context.Context, item Item) error {
	switch item.Operation {
	case OpInsert:
		return r.applyInsert(ctx, item)
	case OpUpdate:
		return r.applyUpdate(ctx, item)
	case OpDelete:
		return r.applyDelete(ctx, item)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOperation, item.Operation)
	}
}

func (r *Remote) applyInsert(ctx context.Context, item Item) error {
	if _, ok := insertTargets[item.Collection]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, item.Collection)
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s
		SELECT * FROM jsonb_populate_record(NULL::%s, $1)
		ON CONFLICT (id) DO NOTHING
	`, item.Collection, item.Collection)
	if _, err := r.db.Exec(ctx, sql, []byte(item.Payload)); err != nil {
		return fmt.Errorf("insert into %s: %w", item.Collection, err)
	}
	return nil
}

func (r *Remote) applyUpdate(ctx context.Context, item Item) error {
	switch item.Collection {
	case "work_sessions":
		var p struct {
			ID           string     `json:"id"`
			EndTime      *time.Time `json:"end_time"`
			EndLatitude  *float64   `json:"end_latitude"`
			EndLongitude *float64   `json:"end_longitude"`
			Status       string     `json:"status"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode work_sessions update: %w", err)
		}
		_, err := r.db.Exec(ctx, `
			UPDATE work_sessions
			SET end_time=$2, end_latitude=$3, end_longitude=$4, status=$5
			WHERE id=$1 AND status='active'
		`, p.ID, p.EndTime, p.EndLatitude, p.EndLongitude, p.Status)
		return err

	case "gps_breadcrumbs":
		// Deactivation targets the driver's previously-active rows by
		// natural key, not by id.
		var p struct {
			DriverID      string `json:"driver_id"`
			IsActiveRoute bool   `json:"is_active_route"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode gps_breadcrumbs update: %w", err)
		}
		_, err := r.db.Exec(ctx, `
			UPDATE gps_breadcrumbs
			SET is_active_route=$2
			WHERE driver_id=$1 AND is_active_route=true
		`, p.DriverID, p.IsActiveRoute)
		return err

	case "ghost_commands":
		var p struct {
			ID         string    `json:"id"`
			Executed   bool      `json:"executed"`
			ExecutedAt time.Time `json:"executed_at"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return fmt.Errorf("decode ghost_commands update: %w", err)
		}
		_, err := r.db.Exec(ctx, `
			UPDATE ghost_commands
			SET executed=$2, executed_at=$3
			WHERE id=$1
		`, p.ID, p.Executed, p.ExecutedAt)
		return err

	default:
		return fmt.Errorf("%w: update %s", ErrUnknownCollection, item.Collection)
	}
}

func (r *Remote) applyDelete(ctx context.Context, item Item) error {
	if _, ok := insertTargets[item.Collection]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, item.Collection)
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("decode delete payload: %w", err)
	}
	_, err := r.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, item.Collection), p.ID)
	return err
}

func (r *Remote) Register(ctx context.Context, item Item) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sync_queue (id, driver_id, collection, operation, payload, enqueued_at, synced, retry_count, last_error, failed)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7,$8,false)
		ON CONFLICT (id) DO NOTHING
	`, item.ID, item.DriverID, item.Collection, string(item.Operation), []byte(item.Payload),
		item.EnqueuedAt, item.RetryCount, nullableString(item.LastError))
	if err != nil {
		return fmt.Errorf("register queue item: %w", err)
	}
	return nil
}

func (r *Remote) FetchPending(ctx context.Context, limit int) ([]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, driver_id, collection, operation, payload, enqueued_at, retry_count, COALESCE(last_error,'')
		FROM sync_queue
		WHERE synced=false AND failed=false
		ORDER BY enqueued_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it Item
			op string
		)
		if err := rows.Scan(&it.ID, &it.DriverID, &it.Collection, &op, &it.Payload, &it.EnqueuedAt, &it.RetryCount, &it.LastError); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		it.Operation = Operation(op)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Remote) MarkSynced(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_queue SET synced=true, synced_at=$2 WHERE id=$1
	`, id, at)
	return err
}

func (r *Remote) RecordFailure(ctx context.Context, id string, retryCount int, lastErr string, failed bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE sync_queue SET retry_count=$2, last_error=$3, failed=$4 WHERE id=$1
	`, id, retryCount, lastErr, failed)
	return err
}

func (r *Remote) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced=false AND failed=false`).Scan(&count)
	return count, err
}

func (r *Remote) FailedCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sync_queue WHERE failed=true`).Scan(&count)
	return count, err
}

func (r *Remote) PurgeSynced(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sync_queue WHERE synced=true AND synced_at < $1`, cutoff)
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
