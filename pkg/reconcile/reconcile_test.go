package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"threadsync/pkg/models"
	"threadsync/pkg/store"
)

func openTestStore(t *testing.T) {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
}

func thread(localID string, updated time.Time) models.Thread {
	return models.Thread{
		LocalID:   localID,
		Title:     "title " + localID,
		Status:    models.ThreadActive,
		UpdatedAt: updated,
		SyncState: models.SyncPending,
	}
}

func message(localID, threadID string, updated time.Time) models.Message {
	return models.Message{
		LocalID:       localID,
		ThreadLocalID: threadID,
		Role:          models.RoleUser,
		Content:       "hello from " + localID,
		Status:        models.MsgDone,
		UpdatedAt:     updated,
		SyncState:     models.SyncPending,
	}
}

func TestResolveRequiresSession(t *testing.T) {
	openTestStore(t)
	_, err := Resolve("", models.SyncRequest{})
	require.ErrorIs(t, err, ErrNoSession)
	_, err = Resolve("   ", models.SyncRequest{})
	require.ErrorIs(t, err, ErrNoSession)
}

func TestResolveForeignRecordRejectsWholeBatch(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	req := models.SyncRequest{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		req.Threads = append(req.Threads, thread(id, now))
	}
	foreign := thread("f", now)
	foreign.UserID = "mallory"
	req.Threads = append(req.Threads, foreign)

	_, err := Resolve("alice", req)
	require.ErrorIs(t, err, ErrForeignRecord)

	// zero writes: none of the five valid records landed either
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		_, err := store.GetThread("alice", id)
		require.ErrorIs(t, err, store.ErrNotFound, "thread %s must not be written", id)
	}
}

func TestResolveForeignMessageRejects(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	m := message("m1", "t1", now)
	m.UserID = "someone-else"
	_, err := Resolve("alice", models.SyncRequest{Messages: []models.Message{m}})
	require.ErrorIs(t, err, ErrForeignRecord)
}

func TestResolveInvalidRecordRejects(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	bad := message("m1", "t1", now)
	bad.Role = "overlord"
	_, err := Resolve("alice", models.SyncRequest{
		Threads:  []models.Thread{thread("t1", now)},
		Messages: []models.Message{bad},
	})
	require.ErrorIs(t, err, ErrInvalidRecord)
	_, gerr := store.GetThread("alice", "t1")
	require.ErrorIs(t, gerr, store.ErrNotFound)
}

func TestResolveAcceptsNewRecords(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	resp, err := Resolve("alice", models.SyncRequest{
		Threads:  []models.Thread{thread("t1", now)},
		Messages: []models.Message{message("m1", "t1", now)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.UpdatedThreads)
	require.Equal(t, 1, resp.UpdatedMessages)
	require.False(t, resp.SyncTime.IsZero())

	got, err := store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.NotEmpty(t, got.ID, "server id must be assigned")
	require.Equal(t, "alice", got.UserID)
	require.Empty(t, got.SyncState, "client bookkeeping must not be stored")
}

func TestResolveLastWriteWins(t *testing.T) {
	openTestStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	// server holds a copy updated at base+10s
	current := thread("t1", base.Add(10*time.Second))
	current.Title = "server title"
	_, err := Resolve("alice", models.SyncRequest{Threads: []models.Thread{current}})
	require.NoError(t, err)
	stored, err := store.GetThread("alice", "t1")
	require.NoError(t, err)
	serverID := stored.ID

	// stale upload is silently dropped
	stale := thread("t1", base)
	stale.Title = "stale title"
	resp, err := Resolve("alice", models.SyncRequest{Threads: []models.Thread{stale}})
	require.NoError(t, err)
	require.Equal(t, 0, resp.UpdatedThreads)
	got, err := store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.Equal(t, "server title", got.Title)

	// equal timestamps accept (tie goes to the incoming write)
	tie := thread("t1", base.Add(10*time.Second))
	tie.Title = "tie title"
	resp, err = Resolve("alice", models.SyncRequest{Threads: []models.Thread{tie}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.UpdatedThreads)
	got, err = store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.Equal(t, "tie title", got.Title)
	require.Equal(t, serverID, got.ID, "server id survives accepted overwrites")

	// newer upload wins
	newer := thread("t1", base.Add(time.Minute))
	newer.Title = "newer title"
	resp, err = Resolve("alice", models.SyncRequest{Threads: []models.Thread{newer}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.UpdatedThreads)
	got, err = store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.Equal(t, "newer title", got.Title)
}

func TestResolveDeltaIsStrictlyAfterWatermark(t *testing.T) {
	openTestStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	seed := models.SyncRequest{Threads: []models.Thread{
		thread("old", base.Add(-time.Hour)),
		thread("new", base.Add(time.Hour)),
	}}
	_, err := Resolve("alice", seed)
	require.NoError(t, err)

	resp, err := Resolve("alice", models.SyncRequest{LastSyncTime: base})
	require.NoError(t, err)
	require.Len(t, resp.Threads, 1)
	require.Equal(t, "new", resp.Threads[0].LocalID)
}

func TestResolveDeltaEchoesOwnWrites(t *testing.T) {
	openTestStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)
	resp, err := Resolve("alice", models.SyncRequest{
		Threads:      []models.Thread{thread("t1", base.Add(time.Minute))},
		LastSyncTime: base,
	})
	require.NoError(t, err)
	// the just-written record comes back; clients apply idempotently
	require.Len(t, resp.Threads, 1)
	require.Equal(t, "t1", resp.Threads[0].LocalID)
}

func TestResolveIsScopedToUser(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	_, err := Resolve("alice", models.SyncRequest{Threads: []models.Thread{thread("t1", now)}})
	require.NoError(t, err)

	resp, err := Resolve("bob", models.SyncRequest{})
	require.NoError(t, err)
	require.Empty(t, resp.Threads, "bob must not see alice's delta")
}

// Two devices of the same user edit the same thread while offline; after
// both sync, both converge on the later edit regardless of arrival order.
func TestTwoDeviceConvergence(t *testing.T) {
	openTestStore(t)
	base := time.Now().UTC().Truncate(time.Millisecond)

	deviceA := thread("t1", base.Add(time.Minute))
	deviceA.Title = "edit from A"
	deviceB := thread("t1", base.Add(2*time.Minute))
	deviceB.Title = "edit from B"

	// B arrives first, then the older A edit
	_, err := Resolve("alice", models.SyncRequest{Threads: []models.Thread{deviceB}})
	require.NoError(t, err)
	respA, err := Resolve("alice", models.SyncRequest{Threads: []models.Thread{deviceA}, LastSyncTime: base})
	require.NoError(t, err)
	require.Equal(t, 0, respA.UpdatedThreads, "older edit must lose")

	// A's delta carries B's winning copy back to device A
	require.Len(t, respA.Threads, 1)
	require.Equal(t, "edit from B", respA.Threads[0].Title)

	got, err := store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.Equal(t, "edit from B", got.Title)
}

func TestResolveIdempotentRetry(t *testing.T) {
	openTestStore(t)
	now := time.Now().UTC()
	req := models.SyncRequest{
		Threads:  []models.Thread{thread("t1", now)},
		Messages: []models.Message{message("m1", "t1", now)},
	}
	first, err := Resolve("alice", req)
	require.NoError(t, err)
	require.Equal(t, 1, first.UpdatedThreads)

	// same batch again, as after a lost response: ties accept, state converges
	second, err := Resolve("alice", req)
	require.NoError(t, err)
	require.Equal(t, 1, second.UpdatedThreads)

	got, err := store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.Equal(t, "title t1", got.Title)
}
