package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"threadsync/pkg/auth"
	"threadsync/pkg/config"
	"threadsync/pkg/models"
	"threadsync/pkg/store"
)

const testSigningKey = "sk_test_signing"

func setupAPI(t *testing.T) http.Handler {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })
	config.SetRuntime(&config.RuntimeConfig{
		SigningKeys: map[string]struct{}{testSigningKey: {}},
	})
	t.Cleanup(func() { config.SetRuntime(nil) })
	return Handler()
}

// signedRequest builds a request the way the gateway would hand it to the
// API router: role header set, user id signed with a configured key.
func signedRequest(method, path, userID string, body []byte) *http.Request {
	r := httptest.NewRequest(method, path, bytes.NewReader(body))
	r.Header.Set("X-Role-Name", "frontend")
	r.Header.Set("X-User-ID", userID)
	r.Header.Set("X-User-Signature", auth.SignUserID(userID, testSigningKey))
	return r
}

func syncBody(t *testing.T, req models.SyncRequest) []byte {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return b
}

func TestSyncRoundTrip(t *testing.T) {
	h := setupAPI(t)
	now := time.Now().UTC()
	body := syncBody(t, models.SyncRequest{
		Threads: []models.Thread{{
			LocalID: "t1", Title: "chat", Status: models.ThreadActive,
			UpdatedAt: now, SyncState: models.SyncPending,
		}},
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(http.MethodPost, "/v1/sync", "alice", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp models.SyncResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.UpdatedThreads)
	require.False(t, resp.SyncTime.IsZero())

	got, err := store.GetThread("alice", "t1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.UserID)
}

func TestSyncRejectsMissingSignature(t *testing.T) {
	h := setupAPI(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewReader(syncBody(t, models.SyncRequest{})))
	r.Header.Set("X-Role-Name", "frontend")
	r.Header.Set("X-User-ID", "alice")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncRejectsBadSignature(t *testing.T) {
	h := setupAPI(t)
	r := httptest.NewRequest(http.MethodPost, "/v1/sync", bytes.NewReader(syncBody(t, models.SyncRequest{})))
	r.Header.Set("X-Role-Name", "frontend")
	r.Header.Set("X-User-ID", "alice")
	r.Header.Set("X-User-Signature", auth.SignUserID("alice", "wrong-key"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSyncRejectsForeignRecords(t *testing.T) {
	h := setupAPI(t)
	now := time.Now().UTC()
	foreign := models.Thread{
		LocalID: "t1", UserID: "mallory", Title: "stolen",
		Status: models.ThreadActive, UpdatedAt: now,
	}
	body := syncBody(t, models.SyncRequest{Threads: []models.Thread{foreign}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(http.MethodPost, "/v1/sync", "alice", body))
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestSyncRejectsInvalidJSON(t *testing.T) {
	h := setupAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(http.MethodPost, "/v1/sync", "alice", []byte("{not json")))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSyncRejectsInvalidRecord(t *testing.T) {
	h := setupAPI(t)
	bad := models.Message{
		LocalID: "m1", ThreadLocalID: "t1", Role: "overlord",
		Status: models.MsgDone, UpdatedAt: time.Now().UTC(),
	}
	body := syncBody(t, models.SyncRequest{Messages: []models.Message{bad}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(http.MethodPost, "/v1/sync", "alice", body))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPurgeDeletesOnlyCaller(t *testing.T) {
	h := setupAPI(t)
	now := time.Now().UTC()
	require.NoError(t, store.SaveThread("alice", models.Thread{LocalID: "t1", Status: models.ThreadActive, UpdatedAt: now}))
	require.NoError(t, store.SaveThread("bob", models.Thread{LocalID: "t1", Status: models.ThreadActive, UpdatedAt: now}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(http.MethodDelete, "/v1/sync", "alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	_, err := store.GetThread("alice", "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = store.GetThread("bob", "t1")
	require.NoError(t, err)
}

func TestBackendMayAssertUserWithoutSignature(t *testing.T) {
	h := setupAPI(t)
	now := time.Now().UTC()
	require.NoError(t, store.SaveThread("alice", models.Thread{LocalID: "t1", Title: "chat", Status: models.ThreadActive, UpdatedAt: now}))

	r := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	r.Header.Set("X-Role-Name", "backend")
	r.Header.Set("X-User-ID", "alice")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Threads []models.Thread `json:"threads"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out.Threads, 1)
}

func TestBackendWithoutUserIDRejected(t *testing.T) {
	h := setupAPI(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/threads", nil)
	r.Header.Set("X-Role-Name", "backend")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMessagesFiltersByThread(t *testing.T) {
	h := setupAPI(t)
	now := time.Now().UTC()
	require.NoError(t, store.SaveMessage("alice", models.Message{
		LocalID: "m1", ThreadLocalID: "t1", Role: models.RoleUser, Status: models.MsgDone, UpdatedAt: now,
	}))
	require.NoError(t, store.SaveMessage("alice", models.Message{
		LocalID: "m2", ThreadLocalID: "other", Role: models.RoleUser, Status: models.MsgDone, UpdatedAt: now,
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(http.MethodGet, "/v1/threads/t1/messages", "alice", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Thread   string           `json:"thread"`
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "t1", out.Thread)
	require.Len(t, out.Messages, 1)
	require.Equal(t, "m1", out.Messages[0].LocalID)
}
