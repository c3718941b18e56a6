package models

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message statuses. A streaming message is a legitimate sync subject: its
// content grows append-only and later cycles carry the longer version.
const (
	MsgDone      = "done"
	MsgStreaming = "streaming"
	MsgCancelled = "cancelled"
	MsgDeleted   = "deleted"
	MsgError     = "error"
)

// Message is a single chat turn. ThreadLocalID references the owning
// thread by its client-assigned id; the reference is advisory, a message
// may sync before its thread does.
type Message struct {
	LocalID       string `json:"local_id"`
	ID            string `json:"id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	ThreadLocalID string `json:"thread_local_id"`
	Role          string `json:"role"`
	Content       string `json:"content,omitempty"`
	Reasoning     string `json:"reasoning,omitempty"`
	// ToolCalls and Citations are opaque payloads produced by the
	// assistant runtime; sync carries them without interpretation.
	ToolCalls   json.RawMessage `json:"tool_calls,omitempty"`
	Citations   json.RawMessage `json:"citations,omitempty"`
	ServerError string          `json:"server_error,omitempty"`
	Status      string          `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
	SyncState   string          `json:"sync_state,omitempty"`
}
