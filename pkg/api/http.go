package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"threadsync/pkg/auth"
	"threadsync/pkg/logger"
	"threadsync/pkg/models"
	"threadsync/pkg/reconcile"
	"threadsync/pkg/store"
	"threadsync/pkg/telemetry"
	"threadsync/pkg/utils"
)

// Handler returns the sync API router:
//   - POST   /v1/sync: reconcile one client batch, returns the delta
//   - DELETE /v1/sync: purge the calling user's server records
//   - GET    /v1/threads: list the user's threads (backend/admin)
//   - GET    /v1/threads/{localID}/messages: list a thread's messages
func Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(auth.RequireSignedUser)
	r.HandleFunc("/v1/sync", syncHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/sync", purgeHandler).Methods(http.MethodDelete)
	r.HandleFunc("/v1/threads", listThreadsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/threads/{localID}/messages", listMessagesHandler).Methods(http.MethodGet)
	return r
}

// syncHandler runs one reconciliation round. Reconciler sentinels map to
// HTTP statuses here and nowhere else.
func syncHandler(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveUserFromRequest(r)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	span := telemetry.StartSpan(r.Context(), "reconcile.resolve")
	resp, err := reconcile.Resolve(userID, req)
	span()
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrNoSession):
			utils.JSONError(w, http.StatusUnauthorized, "no user session")
		case errors.Is(err, reconcile.ErrForeignRecord):
			utils.JSONError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, reconcile.ErrInvalidRecord):
			utils.JSONError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("sync_failed", "user", userID, "error", err)
			utils.JSONError(w, http.StatusInternalServerError, "sync failed")
		}
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, resp)
}

// purgeHandler removes every server-side record of the calling user. Used
// when the user turns sync off; there is no undo.
func purgeHandler(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveUserFromRequest(r)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := store.PurgeUser(userID); err != nil {
		logger.Error("purge_failed", "user", userID, "error", err)
		utils.JSONError(w, http.StatusInternalServerError, "purge failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "purged"})
}

func listThreadsHandler(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveUserFromRequest(r)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	threads, err := store.ListThreads(userID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Threads []models.Thread `json:"threads"`
	}{Threads: threads})
}

func listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, status, msg := auth.ResolveUserFromRequest(r)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	localID := mux.Vars(r)["localID"]
	all, err := store.ListMessages(userID)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]models.Message, 0, len(all))
	for _, m := range all {
		if m.ThreadLocalID == localID {
			out = append(out, m)
		}
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Thread   string           `json:"thread"`
		Messages []models.Message `json:"messages"`
	}{Thread: localID, Messages: out})
}
