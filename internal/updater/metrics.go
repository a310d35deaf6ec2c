package updater

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registered on the default registry; exposition is the host app's concern.
var (
	metricSyncsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stormsync_syncs_started_total",
		Help: "Sync requests that began executing, by kind.",
	}, []string{"kind"})

	metricSyncsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stormsync_syncs_completed_total",
		Help: "Sync requests that reached Completed, by kind.",
	}, []string{"kind"})

	metricSyncsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stormsync_syncs_failed_total",
		Help: "Sync requests that reached Failed, by kind.",
	}, []string{"kind"})

	metricBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stormsync_downloaded_bytes_total",
		Help: "Raw archive bytes received from the content server.",
	})

	metricVerificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stormsync_verification_failures_total",
		Help: "Downloaded bundles discarded after failing their hash check.",
	})
)
