package reconcile

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/store"
	"threadsync/pkg/utils"
	"threadsync/pkg/validation"
)

// Resolve applies one client batch against the server store with per-record
// last-write-wins, then computes the catch-up delta for the client.
//
// The userID is always an explicit parameter; there is no ambient session
// state in this package, which keeps Resolve a pure function of its inputs
// plus the store.
//
// Guard order matters: session, then ownership across the entire batch,
// then validation, and only then any write. A batch that fails a guard
// leaves the store untouched.
//
// Accepted records are written concurrently and independently. A failure
// mid-batch leaves earlier writes in place; every accepted record carries
// an UpdatedAt that beats or ties what it replaced, so a client retry of
// the same batch converges rather than corrupts. Partial-failure handling
// is therefore retry, not rollback.
func Resolve(userID string, req models.SyncRequest) (*models.SyncResponse, error) {
	if strings.TrimSpace(userID) == "" {
		rejectedBatches.WithLabelValues("no_session").Inc()
		return nil, ErrNoSession
	}
	// Every record is checked before anything is written, so a single
	// foreign record poisons the whole batch.
	for _, t := range req.Threads {
		if t.UserID != "" && t.UserID != userID {
			rejectedBatches.WithLabelValues("foreign_record").Inc()
			logger.Warn("sync_foreign_record", "user", userID, "record_user", t.UserID, "thread", t.LocalID)
			return nil, fmt.Errorf("thread %s: %w", t.LocalID, ErrForeignRecord)
		}
	}
	for _, m := range req.Messages {
		if m.UserID != "" && m.UserID != userID {
			rejectedBatches.WithLabelValues("foreign_record").Inc()
			logger.Warn("sync_foreign_record", "user", userID, "record_user", m.UserID, "message", m.LocalID)
			return nil, fmt.Errorf("message %s: %w", m.LocalID, ErrForeignRecord)
		}
	}
	if err := validation.ValidateSyncRequest(req); err != nil {
		rejectedBatches.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	acceptedThreads, err := resolveThreads(userID, req.Threads)
	if err != nil {
		return nil, err
	}
	acceptedMsgs, err := resolveMessages(userID, req.Messages)
	if err != nil {
		return nil, err
	}

	if err := persist(userID, acceptedThreads, acceptedMsgs); err != nil {
		return nil, err
	}

	// The delta is computed after the writes, so records accepted in this
	// very request come back in the response. Clients apply idempotently,
	// so the echo costs bandwidth but never correctness.
	deltaThreads, err := store.ThreadsUpdatedSince(userID, req.LastSyncTime)
	if err != nil {
		return nil, err
	}
	deltaMsgs, err := store.MessagesUpdatedSince(userID, req.LastSyncTime)
	if err != nil {
		return nil, err
	}

	resp := &models.SyncResponse{
		UpdatedThreads:  len(acceptedThreads),
		UpdatedMessages: len(acceptedMsgs),
		Threads:         deltaThreads,
		Messages:        deltaMsgs,
		SyncTime:        time.Now().UTC(),
	}
	logger.Info("sync_resolved",
		"user", userID,
		"uploaded_threads", len(req.Threads),
		"uploaded_messages", len(req.Messages),
		"accepted_threads", resp.UpdatedThreads,
		"accepted_messages", resp.UpdatedMessages,
		"delta_threads", len(deltaThreads),
		"delta_messages", len(deltaMsgs),
	)
	return resp, nil
}

// resolveThreads decides, per incoming thread, accept or drop. The baseline
// is one bulk fetch taken before any decision, so every comparison in this
// invocation sees the same store state.
func resolveThreads(userID string, incoming []models.Thread) ([]models.Thread, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(incoming))
	for _, t := range incoming {
		ids = append(ids, t.LocalID)
	}
	existing, err := store.FindThreads(userID, ids)
	if err != nil {
		return nil, err
	}
	var accepted []models.Thread
	for _, t := range incoming {
		cur, ok := existing[t.LocalID]
		if ok && cur.UpdatedAt.After(t.UpdatedAt) {
			// Server copy is strictly newer: the upload is stale and is
			// dropped without telling the client. The delta below carries
			// the winning copy back instead. Equal timestamps accept.
			staleRecords.WithLabelValues("thread").Inc()
			logger.Debug("sync_stale_thread", "user", userID, "local_id", t.LocalID)
			continue
		}
		if ok {
			t.ID = cur.ID
		} else if t.ID == "" {
			t.ID = utils.NewServerID()
		}
		t.UserID = userID
		t.SyncState = ""
		accepted = append(accepted, t)
		acceptedRecords.WithLabelValues("thread").Inc()
	}
	return accepted, nil
}

func resolveMessages(userID string, incoming []models.Message) ([]models.Message, error) {
	if len(incoming) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(incoming))
	for _, m := range incoming {
		ids = append(ids, m.LocalID)
	}
	existing, err := store.FindMessages(userID, ids)
	if err != nil {
		return nil, err
	}
	var accepted []models.Message
	for _, m := range incoming {
		cur, ok := existing[m.LocalID]
		if ok && cur.UpdatedAt.After(m.UpdatedAt) {
			staleRecords.WithLabelValues("message").Inc()
			logger.Debug("sync_stale_message", "user", userID, "local_id", m.LocalID)
			continue
		}
		if ok {
			m.ID = cur.ID
		} else if m.ID == "" {
			m.ID = utils.NewServerID()
		}
		m.UserID = userID
		m.SyncState = ""
		accepted = append(accepted, m)
		acceptedRecords.WithLabelValues("message").Inc()
	}
	return accepted, nil
}

// persist writes accepted records concurrently and joins on completion.
// The first error is returned; records already written stay written.
func persist(userID string, threads []models.Thread, msgs []models.Message) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(threads)+len(msgs))
	for _, t := range threads {
		wg.Add(1)
		go func(t models.Thread) {
			defer wg.Done()
			if err := store.SaveThread(userID, t); err != nil {
				errCh <- fmt.Errorf("save thread %s: %w", t.LocalID, err)
			}
		}(t)
	}
	for _, m := range msgs {
		wg.Add(1)
		go func(m models.Message) {
			defer wg.Done()
			if err := store.SaveMessage(userID, m); err != nil {
				errCh <- fmt.Errorf("save message %s: %w", m.LocalID, err)
			}
		}(m)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}
