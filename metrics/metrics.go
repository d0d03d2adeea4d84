// Package metrics holds the Prometheus collectors for sync, merge, watchdog, and hub activity.
// They register with the default registry;
// the hub serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WatchdogStalls counts remote operations that outlived the watchdog timeout.
	WatchdogStalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_watchdog_stalls_total",
		Help: "Remote operations that exceeded the watchdog timeout, by kind",
	}, []string{"kind"})

	// WatchdogReconnects counts disconnect+connect cycles after failed pings.
	WatchdogReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notesync_watchdog_reconnects_total",
		Help: "Peer reconnections performed by the watchdog",
	})

	// WatchdogChecks counts connection checks that actually pinged, by result.
	WatchdogChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_watchdog_checks_total",
		Help: "Connection checks performed by the watchdog, by result",
	}, []string{"result"})

	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_sync_runs_total",
		Help: "Account sync runs, by result",
	}, []string{"result"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notesync_sync_duration_seconds",
		Help:    "Account sync duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// MergeLeaves counts object subtrees visited by the merge engine, by action.
	MergeLeaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_merge_leaves_total",
		Help: "Object subtrees visited during merge, by action",
	}, []string{"action"})

	HubRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notesync_hub_requests_total",
		Help: "Hub HTTP requests, by endpoint and status code",
	}, []string{"endpoint", "code"})

	// HubBlocksStored counts blocks newly added to the hub's block store.
	HubBlocksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notesync_hub_blocks_stored_total",
		Help: "Blocks newly stored by the hub",
	})
)
