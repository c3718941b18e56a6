package models

import "time"

// SyncRequest is one client batch: every locally modified record plus the
// client's watermark. A zero LastSyncTime asks for the full dataset.
type SyncRequest struct {
	Threads      []Thread  `json:"threads,omitempty"`
	Messages     []Message `json:"messages,omitempty"`
	LastSyncTime time.Time `json:"last_sync_time,omitempty"`
}

// SyncResponse reports how many uploads were accepted and returns the
// catch-up delta: every record updated after the request watermark,
// including records the request itself just wrote (client application is
// idempotent, so the echo is harmless). SyncTime is the server's clock at
// resolution time; clients persist it as their next watermark so skewed
// client clocks cannot open gaps in the delta stream.
type SyncResponse struct {
	UpdatedThreads  int       `json:"updated_threads"`
	UpdatedMessages int       `json:"updated_messages"`
	Threads         []Thread  `json:"threads,omitempty"`
	Messages        []Message `json:"messages,omitempty"`
	SyncTime        time.Time `json:"sync_time"`
}
