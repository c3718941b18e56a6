package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"threadsync/pkg/client"
	"threadsync/pkg/client/localstore"
	"threadsync/pkg/logger"
	"threadsync/pkg/models"
)

// DefaultInterval is the background sync cadence when none is configured.
const DefaultInterval = 5 * time.Minute

// Options tunes an Orchestrator.
type Options struct {
	// Interval between background cycles; zero means DefaultInterval.
	Interval time.Duration
	// MaxBatchBytes caps the serialized upload per cycle; zero means
	// unlimited. Overflow stays pending and a follow-up cycle runs
	// immediately.
	MaxBatchBytes int64
}

// Orchestrator drives the sync loop for one user profile.
//
// Exactly one sync cycle runs at a time. Triggers that arrive while a
// cycle is in flight coalesce into a single queued follow-up, so a burst
// of mutations costs at most one extra round trip.
type Orchestrator struct {
	store     *localstore.Store
	transport client.Transport
	userID    string
	opts      Options

	mu          sync.Mutex
	inFlight    bool
	queued      bool
	forceQueued bool
	forceNext   bool
	disabled    bool
	kick        chan struct{}
}

// New builds an Orchestrator. The user id may be empty (not signed in);
// triggers are then no-ops until the profile gets an identity.
func New(store *localstore.Store, transport client.Transport, userID string, opts Options) *Orchestrator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Orchestrator{
		store:     store,
		transport: transport,
		userID:    userID,
		opts:      opts,
		kick:      make(chan struct{}, 1),
	}
}

// Trigger requests a sync cycle. If one is already running the request is
// coalesced into one follow-up run; force survives coalescing. Returns the
// error of the cycle it ran, or nil when it only queued.
func (o *Orchestrator) Trigger(ctx context.Context, force bool) error {
	o.mu.Lock()
	if o.disabled || strings.TrimSpace(o.userID) == "" {
		o.mu.Unlock()
		return nil
	}
	if o.forceNext {
		force = true
		o.forceNext = false
	}
	if o.inFlight {
		o.queued = true
		o.forceQueued = o.forceQueued || force
		o.mu.Unlock()
		return nil
	}
	o.inFlight = true
	o.mu.Unlock()

	var firstErr error
	for {
		if err := o.syncOnce(ctx, force); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logger.Warn("sync_cycle_failed", "user", o.userID, "error", err)
		}

		o.mu.Lock()
		if o.queued && firstErr == nil {
			o.queued = false
			force = o.forceQueued
			o.forceQueued = false
			o.mu.Unlock()
			continue
		}
		o.queued = false
		o.forceQueued = false
		o.inFlight = false
		o.mu.Unlock()
		return firstErr
	}
}

// Kick asks the background loop to sync soon without blocking the caller.
func (o *Orchestrator) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Run drives background syncs until ctx is cancelled: one cycle per
// interval tick plus any kicks.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	logger.Info("sync_loop_started", "user", o.userID, "interval", o.opts.Interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("sync_loop_stopped", "user", o.userID)
			return
		case <-ticker.C:
			_ = o.Trigger(ctx, false)
		case <-o.kick:
			_ = o.Trigger(ctx, false)
		}
	}
}

// Disable turns sync off: purges the user's server-side data, drops the
// watermark and stops future triggers. Local data stays untouched.
func (o *Orchestrator) Disable(ctx context.Context) error {
	o.mu.Lock()
	o.disabled = true
	o.mu.Unlock()
	if err := o.transport.Purge(ctx); err != nil {
		return err
	}
	if err := o.store.ResetWatermark(); err != nil {
		return err
	}
	logger.Info("sync_disabled", "user", o.userID)
	return nil
}

// Enable turns sync back on. The next trigger runs a full resync so the
// server is rebuilt from local state.
func (o *Orchestrator) Enable() {
	o.mu.Lock()
	o.disabled = false
	o.forceNext = true
	o.mu.Unlock()
	logger.Info("sync_enabled", "user", o.userID)
}

// syncOnce runs one full cycle: collect pending, mark inflight, exchange
// with the server, apply the delta and advance the watermark. On any
// failure inflight records are requeued and the watermark stays put, so a
// crashed or failed cycle costs a retry, never data.
func (o *Orchestrator) syncOnce(ctx context.Context, force bool) error {
	threads, err := o.store.ThreadsPendingSync()
	if err != nil {
		return err
	}
	msgs, err := o.store.MessagesPendingSync()
	if err != nil {
		return err
	}
	threads, msgs, truncated := capBatch(threads, msgs, o.opts.MaxBatchBytes)

	tIDs := make([]string, 0, len(threads))
	for _, t := range threads {
		tIDs = append(tIDs, t.LocalID)
	}
	mIDs := make([]string, 0, len(msgs))
	for _, m := range msgs {
		mIDs = append(mIDs, m.LocalID)
	}
	if err := o.store.MarkThreadsInflight(tIDs); err != nil {
		return err
	}
	if err := o.store.MarkMessagesInflight(mIDs); err != nil {
		return err
	}

	var since time.Time
	if !force {
		since, err = o.store.Watermark()
		if err != nil {
			return err
		}
		if since.IsZero() {
			// Fresh profile with no watermark: only pull changes from here
			// on. Enable() forces the full pull when history is wanted.
			since = time.Now().UTC()
		}
	}

	req := models.SyncRequest{Threads: threads, Messages: msgs, LastSyncTime: since}
	resp, err := o.transport.Sync(ctx, req)
	if err != nil {
		if rqErr := o.store.RequeueInflight(); rqErr != nil {
			logger.Error("requeue_inflight_failed", "error", rqErr)
		}
		return err
	}

	if err := o.store.ApplyServerThreads(resp.Threads); err != nil {
		return err
	}
	if err := o.store.ApplyServerMessages(resp.Messages); err != nil {
		return err
	}
	if err := o.store.FinishInflight(); err != nil {
		return err
	}
	if err := o.store.SetWatermark(resp.SyncTime); err != nil {
		return err
	}
	logger.Info("sync_cycle_complete",
		"user", o.userID,
		"uploaded_threads", len(threads),
		"uploaded_messages", len(msgs),
		"accepted_threads", resp.UpdatedThreads,
		"accepted_messages", resp.UpdatedMessages,
		"delta_threads", len(resp.Threads),
		"delta_messages", len(resp.Messages),
	)

	if truncated {
		// remainder stays pending; run again right away
		o.mu.Lock()
		o.queued = true
		o.mu.Unlock()
	}
	return nil
}

// capBatch trims the upload to maxBytes of serialized records. Threads go
// first so a message never arrives ahead of the thread it belongs to.
func capBatch(threads []models.Thread, msgs []models.Message, maxBytes int64) ([]models.Thread, []models.Message, bool) {
	if maxBytes <= 0 {
		return threads, msgs, false
	}
	var used int64
	outT := threads[:0:0]
	for i, t := range threads {
		b, err := json.Marshal(t)
		if err != nil {
			continue
		}
		used += int64(len(b))
		if used > maxBytes && i > 0 {
			return outT, nil, true
		}
		outT = append(outT, t)
	}
	outM := msgs[:0:0]
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		used += int64(len(b))
		if used > maxBytes && (i > 0 || len(outT) > 0) {
			return outT, outM, true
		}
		outM = append(outM, m)
	}
	return outT, outM, false
}
