package kpi

import (
	"context"
	"errors"
	"strings"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

// KPI metric keys as sent by producers.
const (
	MetricOEE          = "oee"
	MetricFTY          = "fty"
	MetricOTD          = "otd"
	MetricQualityScore = "quality_score"
	MetricThroughput   = "throughput"
	MetricAvgCycleTime = "avg_cycle_time"
)

// MetricNames lists the KPI metrics a record may carry.
var MetricNames = []string{
	MetricOEE,
	MetricFTY,
	MetricOTD,
	MetricQualityScore,
	MetricThroughput,
	MetricAvgCycleTime,
}

var (
	ErrKPINotFound    = errors.New("kpi: not found")
	ErrEmptyStationID = errors.New("kpi: empty station id")
)

// Record is one KPI report for a station. Records are append-only.
type Record struct {
	ID           string                   `json:"id"`
	StationID    string                   `json:"stationId"`
	Timestamp    time.Time                `json:"timestamp"`
	TotalCycles  int64                    `json:"totalCycles"`
	RuntimeHours float64                  `json:"runtimeHours"`
	Metrics      map[string]telemetry.Map `json:"metrics"`
	ReceivedAt   time.Time                `json:"receivedAt"`
	// TimestampFallback is set when the report timestamp was missing or unparsable.
	TimestampFallback bool `json:"-"`
}

// NewRecord builds a record from a raw KPI report. A bare number for a
// metric is stored as {value: n}.
func NewRecord(raw telemetry.Map, id string, now time.Time) (Record, error) {
	stationValue, _ := raw.First("station_id", "stationId")
	stationID := strings.TrimSpace(stationValue.AsString(""))
	if stationID == "" {
		return Record{}, &telemetry.ValidationError{Field: "station_id", Reason: "required"}
	}

	now = now.UTC()
	rec := Record{
		ID:         id,
		StationID:  stationID,
		ReceivedAt: now,
		Metrics:    make(map[string]telemetry.Map, len(MetricNames)),
	}
	if ts, ok := telemetry.ParseTimestamp(raw.Get("timestamp")); ok {
		rec.Timestamp = ts
	} else {
		rec.Timestamp = now
		rec.TimestampFallback = true
	}
	if v, ok := raw.First("total_cycles", "totalCycles"); ok {
		rec.TotalCycles = v.AsInt(0)
	}
	if v, ok := raw.First("runtime_hours", "runtimeHours"); ok {
		rec.RuntimeHours = v.AsFloat(0)
	}

	for _, name := range MetricNames {
		v := raw.Get(name)
		switch {
		case v.Kind() == telemetry.KindMap:
			rec.Metrics[name] = v.AsMap().Clone()
		case v.IsNumber():
			rec.Metrics[name] = telemetry.Map{"value": v}
		}
	}
	return rec, nil
}

// Metric returns the raw object for a metric.
func (r Record) Metric(name string) (telemetry.Map, bool) {
	m, ok := r.Metrics[name]
	return m, ok
}

// Value returns the metric's value field, or 0 when absent. Cycle time
// reports from the collector carry "average" instead of "value".
func (r Record) Value(name string) float64 {
	m := r.Metrics[name]
	if v, ok := m.Get("value").FloatOK(); ok {
		return v
	}
	if name == MetricAvgCycleTime {
		if v, ok := m.Get("average").FloatOK(); ok {
			return v
		}
	}
	return 0
}

// Repository stores KPI records.
type Repository interface {
	Append(ctx context.Context, record Record) error
	LatestPerStation(ctx context.Context) ([]Record, error)
	LatestForStation(ctx context.Context, stationID string) (Record, error)
}
