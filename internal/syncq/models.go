package syncq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Item is the unit of guaranteed delivery. Its ID is generated once on the
// client and stays stable across every retry, so the remote store can
// deduplicate replays.
type Item struct {
	ID         string          `json:"id"`
	DriverID   string          `json:"driver_id"`
	Collection string          `json:"collection"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Synced     bool            `json:"synced"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	Failed     bool            `json:"failed"`
}

func NewItem(driverID, collection string, op Operation, payload any) (Item, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Item{}, fmt.Errorf("marshal payload for %s: %w", collection, err)
	}
	return Item{
		ID:         uuid.NewString(),
		DriverID:   driverID,
		Collection: collection,
		Operation:  op,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Stats summarizes queue health for the status endpoint and operator
// alerting.
type Stats struct {
	Online       bool       `json:"online"`
	PendingLocal int        `json:"pending_local"`
	PendingRemote int       `json:"pending_remote"`
	FailedCount  int        `json:"failed_count"`
	LastDrain    *time.Time `json:"last_drain,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}
