package station

import (
	"context"
	"strings"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

// Status values reported by producers. Status is free-form; these are the
// ones the projector interprets.
const (
	StatusRunning = "RUNNING"
	StatusIdle    = "IDLE"
	StatusError   = "ERROR"
	StatusFault   = "FAULT"
)

// DefaultEfficientThreshold is the 0-1 efficiency at which a station counts as efficient.
const DefaultEfficientThreshold = 0.80

// Snapshot is the current state of one station.
type Snapshot struct {
	StationID        string        `json:"stationId"`
	StationName      string        `json:"stationName,omitempty"`
	ProcessType      string        `json:"processType"`
	Status           string        `json:"status"`
	Efficiency       *float64      `json:"efficiency"`
	Temperature      *float64      `json:"temperature"`
	AlertCount       int           `json:"alertCount"`
	Metrics          telemetry.Map `json:"metrics"`
	CurrentAlerts    telemetry.Map `json:"currentAlerts"`
	CurrentOperation string        `json:"currentOperation,omitempty"`
	CycleTime        *float64      `json:"cycleTime,omitempty"`
	TargetCycleTime  *float64      `json:"targetCycleTime,omitempty"`
	ProductionCount  *int64        `json:"productionCount,omitempty"`
	Progress         *float64      `json:"progress,omitempty"`
	EventTime        time.Time     `json:"eventTime"`
	LastUpdate       time.Time     `json:"lastUpdate"`
}

// New returns an empty snapshot for a station.
func New(stationID string) *Snapshot {
	return &Snapshot{
		StationID:     stationID,
		Metrics:       telemetry.Map{},
		CurrentAlerts: telemetry.Map{},
	}
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Efficiency = cloneFloat(s.Efficiency)
	out.Temperature = cloneFloat(s.Temperature)
	out.CycleTime = cloneFloat(s.CycleTime)
	out.TargetCycleTime = cloneFloat(s.TargetCycleTime)
	out.Progress = cloneFloat(s.Progress)
	if s.ProductionCount != nil {
		v := *s.ProductionCount
		out.ProductionCount = &v
	}
	out.Metrics = s.Metrics.Clone()
	out.CurrentAlerts = s.CurrentAlerts.Clone()
	return &out
}

// IsRunning reports whether the station status is RUNNING.
func (s *Snapshot) IsRunning() bool {
	return strings.EqualFold(s.Status, StatusRunning)
}

// HasError reports whether the station is in an error or fault state.
func (s *Snapshot) HasError() bool {
	return strings.EqualFold(s.Status, StatusError) || strings.EqualFold(s.Status, StatusFault)
}

// IsEfficient reports whether efficiency is known and at least threshold.
func (s *Snapshot) IsEfficient(threshold float64) bool {
	return s.Efficiency != nil && *s.Efficiency >= threshold
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// Repository persists one snapshot per station.
type Repository interface {
	Get(ctx context.Context, stationID string) (*Snapshot, error)
	Save(ctx context.Context, snapshot *Snapshot) error
	List(ctx context.Context) ([]*Snapshot, error)
}
