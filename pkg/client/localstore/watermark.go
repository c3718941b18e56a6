package localstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// Watermark returns the persisted last-sync timestamp. A zero time with a
// nil error means no sync has completed yet (first run, or after
// ResetWatermark).
func (s *Store) Watermark() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, closer, err := s.db.Get([]byte(watermarkKey))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	defer closer.Close()
	t, err := time.Parse(time.RFC3339Nano, string(val))
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt watermark %q: %w", string(val), err)
	}
	return t, nil
}

// SetWatermark persists the last-sync timestamp. Callers pass the server's
// sync_time, never the local clock.
func (s *Store) SetWatermark(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Set([]byte(watermarkKey), []byte(t.UTC().Format(time.RFC3339Nano)), pebble.Sync)
}

// ResetWatermark removes the watermark so the next sync is a full one.
func (s *Store) ResetWatermark() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Delete([]byte(watermarkKey), pebble.Sync)
}
