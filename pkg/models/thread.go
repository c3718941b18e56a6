package models

import (
	"encoding/json"
	"time"
)

// Thread statuses. Deleted threads are tombstones: they keep syncing so
// every replica observes the deletion, and are only physically removed by
// the retention job.
const (
	ThreadActive  = "active"
	ThreadDeleted = "deleted"
)

// Sync states for client-side records. A record moves pending -> inflight
// when a sync cycle picks it up, and inflight -> synced when the server
// acknowledges it. Any local mutation puts it back to pending.
const (
	SyncPending  = "pending"
	SyncInflight = "inflight"
	SyncSynced   = "synced"
)

// Thread is a conversation container. LocalID is the client-assigned
// identity and the natural key within a user's namespace; ID is assigned by
// the server on first acceptance and preserved thereafter.
type Thread struct {
	LocalID string `json:"local_id"`
	ID      string `json:"id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Title   string `json:"title,omitempty"`
	// Model and ModelParams describe the assistant configuration for the
	// thread; params are carried opaquely.
	Model       string          `json:"model,omitempty"`
	ModelParams json.RawMessage `json:"model_params,omitempty"`
	Pinned      bool            `json:"pinned,omitempty"`
	// LastMessageAt is a denormalized pointer to the latest message
	// activity, used for ordering thread lists.
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
	// UpdatedAt is the last-write-wins comparison key. Every mutation, on
	// either side, bumps it.
	UpdatedAt time.Time `json:"updated_at"`
	Status    string    `json:"status"`
	// SyncState is client-local bookkeeping; the server clears it on store.
	SyncState string `json:"sync_state,omitempty"`
}
