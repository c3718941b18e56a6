package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
)

var (
	db     *pebble.DB
	dbPath string
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

// Key layout. All records live in a per-user namespace so that purges and
// delta scans are single range operations:
//
//	user:<uid>:thread:<localID> -> thread JSON
//	user:<uid>:msg:<localID>    -> message JSON
func threadKey(userID, localID string) string {
	return fmt.Sprintf("user:%s:thread:%s", userID, localID)
}

func msgKey(userID, localID string) string {
	return fmt.Sprintf("user:%s:msg:%s", userID, localID)
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func prefixEnd(prefix string) []byte {
	b := []byte(prefix)
	b[len(b)-1]++
	return b
}

// SaveThread upserts a thread record under its (user, local id) key with
// synchronous durability. Accepted sync writes must not be lost to a crash
// after the client marked them synced.
func SaveThread(userID string, t models.Thread) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal thread: %w", err)
	}
	key := threadKey(userID, t.LocalID)
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("save_thread_failed", "user", userID, "key", key, "error", err)
		return err
	}
	threadSaves.Inc()
	logger.Debug("thread_saved", "user", userID, "local_id", t.LocalID)
	return nil
}

// SaveMessage upserts a message record under its (user, local id) key.
func SaveMessage(userID string, m models.Message) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := msgKey(userID, m.LocalID)
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("save_message_failed", "user", userID, "key", key, "error", err)
		return err
	}
	messageSaves.Inc()
	logger.Debug("message_saved", "user", userID, "local_id", m.LocalID)
	return nil
}

// GetThread fetches a single thread, returning ErrNotFound when absent.
func GetThread(userID, localID string) (models.Thread, error) {
	var t models.Thread
	if db == nil {
		return t, fmt.Errorf("pebble not opened; call store.Open first")
	}
	val, closer, err := db.Get([]byte(threadKey(userID, localID)))
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

// GetMessage fetches a single message, returning ErrNotFound when absent.
func GetMessage(userID, localID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, fmt.Errorf("pebble not opened; call store.Open first")
	}
	val, closer, err := db.Get([]byte(msgKey(userID, localID)))
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

func scanThreads(userID string, keep func(models.Thread) bool) ([]models.Thread, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := fmt.Sprintf("user:%s:thread:", userID)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
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

func scanMessages(userID string, keep func(models.Message) bool) ([]models.Message, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := fmt.Sprintf("user:%s:msg:", userID)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd(prefix),
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

// ListThreads returns every thread owned by the user, tombstones included.
func ListThreads(userID string) ([]models.Thread, error) {
	return scanThreads(userID, nil)
}

// ListMessages returns every message owned by the user.
func ListMessages(userID string) ([]models.Message, error) {
	return scanMessages(userID, nil)
}

// FindThreads bulk-fetches the user's threads matching the given local ids.
// One prefix scan serves the whole batch; the reconciler uses this as its
// conflict baseline, so the result must reflect a single point in time.
func FindThreads(userID string, localIDs []string) (map[string]models.Thread, error) {
	want := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		want[id] = struct{}{}
	}
	found, err := scanThreads(userID, func(t models.Thread) bool {
		_, ok := want[t.LocalID]
		return ok
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Thread, len(found))
	for _, t := range found {
		out[t.LocalID] = t
	}
	return out, nil
}

// FindMessages bulk-fetches the user's messages matching the given local ids.
func FindMessages(userID string, localIDs []string) (map[string]models.Message, error) {
	want := make(map[string]struct{}, len(localIDs))
	for _, id := range localIDs {
		want[id] = struct{}{}
	}
	found, err := scanMessages(userID, func(m models.Message) bool {
		_, ok := want[m.LocalID]
		return ok
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Message, len(found))
	for _, m := range found {
		out[m.LocalID] = m
	}
	return out, nil
}

// ThreadsUpdatedSince returns threads with UpdatedAt strictly after t.
func ThreadsUpdatedSince(userID string, t time.Time) ([]models.Thread, error) {
	return scanThreads(userID, func(th models.Thread) bool {
		return th.UpdatedAt.After(t)
	})
}

// MessagesUpdatedSince returns messages with UpdatedAt strictly after t.
func MessagesUpdatedSince(userID string, t time.Time) ([]models.Message, error) {
	return scanMessages(userID, func(m models.Message) bool {
		return m.UpdatedAt.After(t)
	})
}

// PurgeUser removes every record belonging to the user in one range
// delete. Used when a user disables sync; irreversible.
func PurgeUser(userID string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := fmt.Sprintf("user:%s:", userID)
	if err := db.DeleteRange([]byte(prefix), prefixEnd(prefix), pebble.Sync); err != nil {
		logger.Error("purge_user_failed", "user", userID, "error", err)
		return err
	}
	userPurges.Inc()
	logger.Info("user_purged", "user", userID)
	return nil
}

// PurgeDeletedBefore physically removes tombstoned records whose UpdatedAt
// is before the cutoff, across all users. Deletes are batched; a positive
// sleep yields between batches to keep foreground latency flat. When
// dryRun is set nothing is deleted and only counts are reported.
func PurgeDeletedBefore(cutoff time.Time, batchSize int, sleep time.Duration, dryRun bool) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("pebble not opened; call store.Open first")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("user:"),
		UpperBound: prefixEnd("user:"),
	})
	if err != nil {
		return 0, err
	}
	var victims [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var probe struct {
			Status    string    `json:"status"`
			UpdatedAt time.Time `json:"updated_at"`
		}
		if err := json.Unmarshal(iter.Value(), &probe); err != nil {
			continue
		}
		if (probe.Status == models.ThreadDeleted || probe.Status == models.MsgDeleted) && probe.UpdatedAt.Before(cutoff) {
			victims = append(victims, append([]byte(nil), iter.Key()...))
		}
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, err
	}
	iter.Close()

	if dryRun {
		return len(victims), nil
	}
	removed := 0
	for i := 0; i < len(victims); i += batchSize {
		end := i + batchSize
		if end > len(victims) {
			end = len(victims)
		}
		batch := db.NewBatch()
		for _, k := range victims[i:end] {
			if err := batch.Delete(k, nil); err != nil {
				_ = batch.Close()
				return removed, err
			}
		}
		if err := batch.Commit(pebble.Sync); err != nil {
			return removed, err
		}
		removed += end - i
		tombstonePurges.Add(float64(end - i))
		if sleep > 0 && end < len(victims) {
			time.Sleep(sleep)
		}
	}
	return removed, nil
}
