package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	metricPrefix = "factory_"

	resultSuccess = "success"
	resultError   = "error"
)

// Ingest kinds.
const (
	KindTelemetry       = "telemetry"
	KindKPI             = "kpi"
	KindVehicles        = "vehicles"
	KindStationStatus   = "station_status"
	KindProductionStats = "production_stats"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	tsdbWrites        *prometheus.CounterVec
	tsdbLines         *prometheus.CounterVec
	tsdbDropped       prometheus.Counter
	tsdbQueryFailures prometheus.Counter

	stationUpdates  *prometheus.CounterVec
	trackedVehicles prometheus.Gauge

	cacheLookups  *prometheus.CounterVec
	streamClients prometheus.Gauge
)

// Init registers metrics. A non-nil db adds table-count gauges.
func Init(db *sql.DB, logger logrus.FieldLogger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by kind and result",
			},
			[]string{"kind", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by kind and reason",
			},
			[]string{"kind", "reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "result"},
		)

		tsdbWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tsdb_writes_total",
				Help: "Time-series write requests by result",
			},
			[]string{"result"},
		)
		tsdbLines = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tsdb_lines_total",
				Help: "Line-protocol lines sent by result",
			},
			[]string{"result"},
		)
		tsdbDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "tsdb_lines_dropped_total",
				Help: "Lines dropped because the write buffer was full or closed",
			},
		)
		tsdbQueryFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "tsdb_query_failures_total",
				Help: "Failed time-series queries",
			},
		)

		stationUpdates = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "station_updates_total",
				Help: "Station snapshot updates by source and result",
			},
			[]string{"source", "result"},
		)
		trackedVehicles = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "tracked_vehicles",
				Help: "Vehicles currently held by the tracker",
			},
		)

		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_lookups_total",
				Help: "Read-model cache lookups by key and outcome",
			},
			[]string{"key", "outcome"},
		)
		streamClients = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_clients",
				Help: "Connected live stream clients",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			tsdbWrites,
			tsdbLines,
			tsdbDropped,
			tsdbQueryFailures,
			stationUpdates,
			trackedVehicles,
			cacheLookups,
			streamClients,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(kind, result string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(kind, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(kind, result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(kind, reason string) {
	if kind == "" {
		kind = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(kind, reason).Inc()
	}
}

// ObserveTSDBWrite counts a write request and its lines.
func ObserveTSDBWrite(result string, lines int) {
	if result == "" {
		result = resultSuccess
	}
	if tsdbWrites != nil {
		tsdbWrites.WithLabelValues(result).Inc()
	}
	if tsdbLines != nil && lines > 0 {
		tsdbLines.WithLabelValues(result).Add(float64(lines))
	}
}

// AddTSDBDropped counts lines that never reached the store.
func AddTSDBDropped(lines int) {
	if lines <= 0 {
		return
	}
	if tsdbDropped != nil {
		tsdbDropped.Add(float64(lines))
	}
}

// IncTSDBQueryFailure counts a failed query.
func IncTSDBQueryFailure() {
	if tsdbQueryFailures != nil {
		tsdbQueryFailures.Inc()
	}
}

// IncStationUpdate counts a station snapshot write.
func IncStationUpdate(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if stationUpdates != nil {
		stationUpdates.WithLabelValues(source, result).Inc()
	}
}

// SetTrackedVehicles sets the tracked vehicle gauge.
func SetTrackedVehicles(count int) {
	if count < 0 {
		count = 0
	}
	if trackedVehicles != nil {
		trackedVehicles.Set(float64(count))
	}
}

// IncCacheLookup counts a cache hit or miss.
func IncCacheLookup(key string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	if cacheLookups != nil {
		cacheLookups.WithLabelValues(key, outcome).Inc()
	}
}

// AddStreamClients adjusts the connected stream client gauge.
func AddStreamClients(delta int) {
	if streamClients != nil {
		streamClients.Add(float64(delta))
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
