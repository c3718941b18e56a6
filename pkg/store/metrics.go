package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	threadSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadsync_store_thread_saves_total",
		Help: "Thread records written to the server store.",
	})
	messageSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadsync_store_message_saves_total",
		Help: "Message records written to the server store.",
	})
	userPurges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadsync_store_user_purges_total",
		Help: "Whole-user range deletes (sync disable).",
	})
	tombstonePurges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threadsync_store_tombstone_purges_total",
		Help: "Tombstoned records physically removed by retention.",
	})
)
