package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acceptedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_reconcile_accepted_total",
		Help: "Uploaded records accepted by last-write-wins resolution.",
	}, []string{"kind"})
	staleRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_reconcile_stale_dropped_total",
		Help: "Uploaded records dropped because the server copy was newer.",
	}, []string{"kind"})
	rejectedBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threadsync_reconcile_rejected_batches_total",
		Help: "Whole batches rejected before any write.",
	}, []string{"reason"})
)
