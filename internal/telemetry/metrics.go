package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "heimdall_api_request_duration_seconds",
		Help: "HTTP request latency by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status_code"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_api_requests_total",
		Help: "HTTP requests served by method, endpoint and status code.",
	}, []string{"method", "endpoint", "status_code"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_api_active_connections",
		Help: "HTTP requests currently in flight.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_api_websocket_connections",
		Help: "Open websocket event subscriptions.",
	})
)

// Database metrics, recorded by the gorm callbacks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heimdall_database_query_duration_seconds",
		Help:    "Database query latency by operation and table.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_database_errors_total",
		Help: "Database errors by operation and table.",
	}, []string{"operation", "table"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_database_connections_active",
		Help: "Open database connections in use.",
	})
)

// Playback metrics, recorded by the player manager.
var (
	// 0=idle, 1=loading, 2=playing, 3=paused, 4=error
	EngineStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heimdall_engine_status",
		Help: "Playback engine status per screen (0=idle 1=loading 2=playing 3=paused 4=error).",
	}, []string{"screen_id"})

	ContentAdvancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_content_advances_total",
		Help: "Region advances to the next playlist item.",
	}, []string{"screen_id", "region_id"})

	PlaybackCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_playback_cycles_total",
		Help: "Completed full playlist cycles per screen.",
	}, []string{"screen_id"})

	PlayLogEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_playlog_entries_total",
		Help: "Proof-of-play records written per screen.",
	}, []string{"screen_id"})

	ScreensOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_screens_online",
		Help: "Screens with a live player connection.",
	})
)

// Scheduler metrics.
var (
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heimdall_scheduler_ticks_total",
		Help: "Schedule evaluation passes.",
	})

	SchedulerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_scheduler_errors_total",
		Help: "Schedule evaluation failures by stage.",
	}, []string{"stage"})

	ScheduleBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "heimdall_schedule_build_duration_seconds",
		Help: "Time to expand recurrences and resolve the active window set.",
	})

	ScheduleEntriesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heimdall_schedule_entries_active",
		Help: "Schedule entries currently active.",
	})
)

// Live stream monitor metrics.
var (
	StreamProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_stream_probes_total",
		Help: "Stream endpoint probes by result.",
	}, []string{"content_id", "result"})

	StreamReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_stream_reconnects_total",
		Help: "Times a dropped stream came back.",
	}, []string{"content_id"})

	// 0=waiting on fallback, 1=connecting, 2=live
	StreamStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heimdall_stream_status",
		Help: "Live stream state (0=waiting 1=connecting 2=live).",
	}, []string{"content_id"})
)

// Media pipeline metrics.
var (
	MediaUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_media_uploads_total",
		Help: "Media uploads accepted, by content type.",
	}, []string{"content_type"})

	MediaStorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_media_storage_errors_total",
		Help: "Object storage failures by operation.",
	}, []string{"operation"})
)

// Cross-node plumbing metrics.
var (
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_events_published_total",
		Help: "Events published to the cluster bus by type.",
	}, []string{"type"})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_cache_hits_total",
		Help: "Cache hits by bucket.",
	}, []string{"bucket"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_cache_misses_total",
		Help: "Cache misses by bucket.",
	}, []string{"bucket"})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heimdall_leader_election_status",
		Help: "Whether this instance holds the scheduler lease (1=leader).",
	}, []string{"instance_id"})

	LeaderElectionChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heimdall_leader_election_changes_total",
		Help: "Leadership transitions by direction.",
	}, []string{"instance_id", "transition"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
