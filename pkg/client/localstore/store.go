package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/utils"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the embedded client-side store, one per profile directory. It is
// the UI's source of truth: reads and writes never touch the network, and
// the sync machinery works off the SyncState flags left behind by
// mutations.
//
// All mutations are serialized by a single mutex. The store runs inside one
// desktop/mobile client process, so write contention is between the UI and
// the sync loop only.
type Store struct {
	mu   sync.Mutex
	db   *pebble.DB
	path string
}

// Key layout:
//
//	thread:<localID> -> thread JSON
//	msg:<localID>    -> message JSON
//	meta:watermark   -> RFC3339Nano timestamp of the last successful sync
const (
	threadPrefix = "thread:"
	msgPrefix    = "msg:"
	watermarkKey = "meta:watermark"
)

// Open opens (or creates) the local store at the given profile directory.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("localstore_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("localstore_opened", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getThreadLocked(localID string) (models.Thread, error) {
	var t models.Thread
	val, closer, err := s.db.Get([]byte(threadPrefix + localID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return t, ErrNotFound
		}
		return t, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, &t); err != nil {
		return t, fmt.Errorf("corrupt thread record %s: %w", localID, err)
	}
	return t, nil
}

func (s *Store) getMessageLocked(localID string) (models.Message, error) {
	var m models.Message
	val, closer, err := s.db.Get([]byte(msgPrefix + localID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return m, ErrNotFound
		}
		return m, err
	}
	defer closer.Close()
	if err := json.Unmarshal(val, &m); err != nil {
		return m, fmt.Errorf("corrupt message record %s: %w", localID, err)
	}
	return m, nil
}

func (s *Store) putThreadLocked(t models.Thread) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(threadPrefix+t.LocalID), data, pebble.Sync)
}

func (s *Store) putMessageLocked(m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(msgPrefix+m.LocalID), data, pebble.Sync)
}

// CreateThread creates a new active thread and queues it for sync.
func (s *Store) CreateThread(title, model string) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	t := models.Thread{
		LocalID:   utils.NewLocalID(),
		Title:     title,
		Model:     model,
		UpdatedAt: now,
		Status:    models.ThreadActive,
		SyncState: models.SyncPending,
	}
	if err := s.putThreadLocked(t); err != nil {
		return models.Thread{}, err
	}
	logger.Debug("thread_created", "local_id", t.LocalID)
	return t, nil
}

// mutateThread applies fn to a thread, bumps UpdatedAt and re-queues it.
func (s *Store) mutateThread(localID string, fn func(*models.Thread)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.getThreadLocked(localID)
	if err != nil {
		return err
	}
	fn(&t)
	t.UpdatedAt = time.Now().UTC()
	t.SyncState = models.SyncPending
	return s.putThreadLocked(t)
}

// RenameThread sets a new title.
func (s *Store) RenameThread(localID, title string) error {
	return s.mutateThread(localID, func(t *models.Thread) { t.Title = title })
}

// SetThreadPinned toggles the pinned flag.
func (s *Store) SetThreadPinned(localID string, pinned bool) error {
	return s.mutateThread(localID, func(t *models.Thread) { t.Pinned = pinned })
}

// SetThreadModel changes the assistant model and its opaque params.
func (s *Store) SetThreadModel(localID, model string, params json.RawMessage) error {
	return s.mutateThread(localID, func(t *models.Thread) {
		t.Model = model
		t.ModelParams = params
	})
}

// DeleteThread tombstones a thread. The record stays in the store so the
// deletion propagates; physical removal is the server retention job's
// business.
func (s *Store) DeleteThread(localID string) error {
	return s.mutateThread(localID, func(t *models.Thread) { t.Status = models.ThreadDeleted })
}

// AddMessage appends a message to a thread and bumps the thread's activity
// pointer. Both writes go through one pebble batch so the thread list and
// the message row can never be observed inconsistent.
func (s *Store) AddMessage(threadLocalID, role, content, status string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.getThreadLocked(threadLocalID)
	if err != nil {
		return models.Message{}, err
	}
	now := time.Now().UTC()
	m := models.Message{
		LocalID:       utils.NewLocalID(),
		ThreadLocalID: threadLocalID,
		Role:          role,
		Content:       content,
		Status:        status,
		UpdatedAt:     now,
		SyncState:     models.SyncPending,
	}
	t.LastMessageAt = now
	t.UpdatedAt = now
	t.SyncState = models.SyncPending

	mdata, err := json.Marshal(m)
	if err != nil {
		return models.Message{}, err
	}
	tdata, err := json.Marshal(t)
	if err != nil {
		return models.Message{}, err
	}
	batch := s.db.NewBatch()
	if err := batch.Set([]byte(msgPrefix+m.LocalID), mdata, nil); err != nil {
		_ = batch.Close()
		return models.Message{}, err
	}
	if err := batch.Set([]byte(threadPrefix+t.LocalID), tdata, nil); err != nil {
		_ = batch.Close()
		return models.Message{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return models.Message{}, err
	}
	logger.Debug("message_added", "thread", threadLocalID, "local_id", m.LocalID)
	return m, nil
}

// mutateMessage applies fn to a message, bumps UpdatedAt and re-queues it.
func (s *Store) mutateMessage(localID string, fn func(*models.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.getMessageLocked(localID)
	if err != nil {
		return err
	}
	fn(&m)
	m.UpdatedAt = time.Now().UTC()
	m.SyncState = models.SyncPending
	return s.putMessageLocked(m)
}

// AppendMessageContent grows a streaming message. Content is append-only,
// so a mid-stream sync just carries a shorter prefix that a later cycle
// extends.
func (s *Store) AppendMessageContent(localID, chunk string) error {
	return s.mutateMessage(localID, func(m *models.Message) { m.Content += chunk })
}

// MarkMessageDone finalizes a streaming message.
func (s *Store) MarkMessageDone(localID string) error {
	return s.mutateMessage(localID, func(m *models.Message) { m.Status = models.MsgDone })
}

// MarkMessageCancelled marks a message cancelled by the user.
func (s *Store) MarkMessageCancelled(localID string) error {
	return s.mutateMessage(localID, func(m *models.Message) { m.Status = models.MsgCancelled })
}

// MarkMessageErrored records a generation failure on the message.
func (s *Store) MarkMessageErrored(localID, serverErr string) error {
	return s.mutateMessage(localID, func(m *models.Message) {
		m.Status = models.MsgError
		m.ServerError = serverErr
	})
}

// DeleteMessage tombstones a message.
func (s *Store) DeleteMessage(localID string) error {
	return s.mutateMessage(localID, func(m *models.Message) { m.Status = models.MsgDeleted })
}

// GetThread returns a thread by local id.
func (s *Store) GetThread(localID string) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getThreadLocked(localID)
}

// GetMessage returns a message by local id.
func (s *Store) GetMessage(localID string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getMessageLocked(localID)
}

func (s *Store) scanThreadsLocked(keep func(models.Thread) bool) ([]models.Thread, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(threadPrefix),
		UpperBound: []byte(threadPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Thread
	for iter.First(); iter.Valid(); iter.Next() {
		var t models.Thread
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			logger.Warn("skip_corrupt_thread", "key", string(iter.Key()), "error", err)
			continue
		}
		if keep == nil || keep(t) {
			out = append(out, t)
		}
	}
	return out, iter.Error()
}

func (s *Store) scanMessagesLocked(keep func(models.Message) bool) ([]models.Message, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(msgPrefix),
		UpperBound: []byte(msgPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.First(); iter.Valid(); iter.Next() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("skip_corrupt_message", "key", string(iter.Key()), "error", err)
			continue
		}
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	return out, iter.Error()
}

// ListThreads returns every thread, tombstones included. Callers render
// what they want; the sync machinery needs to see everything.
func (s *Store) ListThreads() ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanThreadsLocked(nil)
}

// ListMessagesForThread returns the messages belonging to a thread.
func (s *Store) ListMessagesForThread(threadLocalID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanMessagesLocked(func(m models.Message) bool {
		return m.ThreadLocalID == threadLocalID
	})
}

// ThreadsPendingSync returns threads not yet acknowledged by the server
// (pending or inflight).
func (s *Store) ThreadsPendingSync() ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanThreadsLocked(func(t models.Thread) bool {
		return t.SyncState != models.SyncSynced
	})
}

// MessagesPendingSync returns messages not yet acknowledged by the server.
func (s *Store) MessagesPendingSync() ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanMessagesLocked(func(m models.Message) bool {
		return m.SyncState != models.SyncSynced
	})
}

// MarkThreadsInflight moves the given threads pending -> inflight. Records
// mutated since the caller read them keep their pending state.
func (s *Store) MarkThreadsInflight(localIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range localIDs {
		t, err := s.getThreadLocked(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if t.SyncState != models.SyncPending {
			continue
		}
		t.SyncState = models.SyncInflight
		if err := s.putThreadLocked(t); err != nil {
			return err
		}
	}
	return nil
}

// MarkMessagesInflight moves the given messages pending -> inflight.
func (s *Store) MarkMessagesInflight(localIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range localIDs {
		m, err := s.getMessageLocked(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if m.SyncState != models.SyncPending {
			continue
		}
		m.SyncState = models.SyncInflight
		if err := s.putMessageLocked(m); err != nil {
			return err
		}
	}
	return nil
}

// ApplyServerThreads upserts server delta threads, marking them synced.
// Applying the same delta twice is a no-op.
//
// One exception: a thread the user re-modified while the sync was in
// flight is pending again with a newer UpdatedAt; the server copy would
// roll that edit back, so the local copy wins and goes out next cycle.
func (s *Store) ApplyServerThreads(threads []models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range threads {
		local, err := s.getThreadLocked(in.LocalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && local.SyncState == models.SyncPending && local.UpdatedAt.After(in.UpdatedAt) {
			logger.Debug("apply_keep_local_thread", "local_id", in.LocalID)
			continue
		}
		in.SyncState = models.SyncSynced
		if err := s.putThreadLocked(in); err != nil {
			return err
		}
	}
	return nil
}

// ApplyServerMessages upserts server delta messages, marking them synced.
func (s *Store) ApplyServerMessages(msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range msgs {
		local, err := s.getMessageLocked(in.LocalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && local.SyncState == models.SyncPending && local.UpdatedAt.After(in.UpdatedAt) {
			logger.Debug("apply_keep_local_message", "local_id", in.LocalID)
			continue
		}
		in.SyncState = models.SyncSynced
		if err := s.putMessageLocked(in); err != nil {
			return err
		}
	}
	return nil
}

// RequeueInflight moves every inflight record back to pending after a
// failed sync cycle, so the next cycle retries it.
func (s *Store) RequeueInflight() error {
	return s.retagInflight(models.SyncPending)
}

// FinishInflight marks records still inflight after a successful cycle as
// synced. The server acknowledged the batch; records the delta echoed back
// were already overwritten, this sweeps up the rest.
func (s *Store) FinishInflight() error {
	return s.retagInflight(models.SyncSynced)
}

func (s *Store) retagInflight(state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads, err := s.scanThreadsLocked(func(t models.Thread) bool {
		return t.SyncState == models.SyncInflight
	})
	if err != nil {
		return err
	}
	for _, t := range threads {
		t.SyncState = state
		if err := s.putThreadLocked(t); err != nil {
			return err
		}
	}
	msgs, err := s.scanMessagesLocked(func(m models.Message) bool {
		return m.SyncState == models.SyncInflight
	})
	if err != nil {
		return err
	}
	for _, m := range msgs {
		m.SyncState = state
		if err := s.putMessageLocked(m); err != nil {
			return err
		}
	}
	return nil
}
