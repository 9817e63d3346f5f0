package application

import (
	"context"
	"errors"
	"sort"
	"time"

	station "factory-telemetry/internal/station/domain"
)

// Get returns the snapshot for a station.
func (p *Projector) Get(ctx context.Context, stationID string) (*station.Snapshot, error) {
	if stationID == "" {
		return nil, station.ErrEmptyStationID
	}
	return p.repo.Get(ctx, stationID)
}

// List returns all snapshots, most recently updated first.
func (p *Projector) List(ctx context.Context) ([]*station.Snapshot, error) {
	all, err := p.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastUpdate.After(all[j].LastUpdate)
	})
	return all, nil
}

// ByStatus returns snapshots whose status equals status.
func (p *Projector) ByStatus(ctx context.Context, status string) ([]*station.Snapshot, error) {
	return p.filter(ctx, func(s *station.Snapshot) bool { return s.Status == status })
}

// ByProcessType returns snapshots of one process type.
func (p *Projector) ByProcessType(ctx context.Context, processType string) ([]*station.Snapshot, error) {
	return p.filter(ctx, func(s *station.Snapshot) bool { return s.ProcessType == processType })
}

// LowEfficiency returns snapshots with efficiency below threshold, lowest first.
func (p *Projector) LowEfficiency(ctx context.Context, threshold float64) ([]*station.Snapshot, error) {
	out, err := p.filter(ctx, func(s *station.Snapshot) bool {
		return s.Efficiency != nil && *s.Efficiency < threshold
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Efficiency < *out[j].Efficiency })
	return out, nil
}

// HighTemperature returns snapshots with temperature above threshold, hottest first.
func (p *Projector) HighTemperature(ctx context.Context, threshold float64) ([]*station.Snapshot, error) {
	out, err := p.filter(ctx, func(s *station.Snapshot) bool {
		return s.Temperature != nil && *s.Temperature > threshold
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].Temperature > *out[j].Temperature })
	return out, nil
}

// WithAlerts returns snapshots with active alerts, most alerts first.
func (p *Projector) WithAlerts(ctx context.Context) ([]*station.Snapshot, error) {
	out, err := p.filter(ctx, func(s *station.Snapshot) bool { return s.AlertCount > 0 })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AlertCount > out[j].AlertCount })
	return out, nil
}

// RecentlyUpdated returns snapshots updated at or after since.
func (p *Projector) RecentlyUpdated(ctx context.Context, since time.Time) ([]*station.Snapshot, error) {
	return p.filter(ctx, func(s *station.Snapshot) bool { return !s.LastUpdate.Before(since) })
}

// CountRunning counts snapshots with status RUNNING.
func (p *Projector) CountRunning(ctx context.Context) (int, error) {
	all, err := p.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range all {
		if s.IsRunning() {
			n++
		}
	}
	return n, nil
}

// AverageEfficiency is the mean over snapshots with a known efficiency, or
// nil when none has one.
func (p *Projector) AverageEfficiency(ctx context.Context) (*float64, error) {
	all, err := p.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sum, n := 0.0, 0
	for _, s := range all {
		if s.Efficiency != nil {
			sum += *s.Efficiency
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}
	avg := sum / float64(n)
	return &avg, nil
}

// TotalAlerts sums alert counts across snapshots.
func (p *Projector) TotalAlerts(ctx context.Context) (int, error) {
	all, err := p.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range all {
		total += s.AlertCount
	}
	return total, nil
}

// Statistics summarizes one station.
type Statistics struct {
	StationID       string    `json:"stationId"`
	StationName     string    `json:"stationName,omitempty"`
	CurrentStatus   string    `json:"currentStatus,omitempty"`
	IsRunning       bool      `json:"isRunning"`
	HasError        bool      `json:"hasError"`
	IsEfficient     bool      `json:"isEfficient"`
	LastUpdate      time.Time `json:"lastUpdate,omitempty"`
	ProductionCount *int64    `json:"productionCount,omitempty"`
	Efficiency      *float64  `json:"efficiency,omitempty"`
	Progress        *float64  `json:"progress,omitempty"`
	AlertCount      int       `json:"alertCount"`
	Found           bool      `json:"found"`
	Message         string    `json:"message,omitempty"`
}

// StationStatistics summarizes a station. An unknown station yields a
// statistics value with Found=false rather than an error.
func (p *Projector) StationStatistics(ctx context.Context, stationID string) (Statistics, error) {
	snap, err := p.Get(ctx, stationID)
	if errors.Is(err, station.ErrStationNotFound) {
		return Statistics{StationID: stationID, Message: "no data"}, nil
	}
	if err != nil {
		return Statistics{}, err
	}
	return Statistics{
		StationID:       snap.StationID,
		StationName:     snap.StationName,
		CurrentStatus:   snap.Status,
		IsRunning:       snap.IsRunning(),
		HasError:        snap.HasError(),
		IsEfficient:     snap.IsEfficient(p.efficientThreshold),
		LastUpdate:      snap.LastUpdate,
		ProductionCount: snap.ProductionCount,
		Efficiency:      snap.Efficiency,
		Progress:        snap.Progress,
		AlertCount:      snap.AlertCount,
		Found:           true,
	}, nil
}

// Health is a fleet-wide station summary.
type Health struct {
	Status          string    `json:"status"`
	TotalStations   int       `json:"totalStations"`
	ActiveStations  int       `json:"activeStations"`
	RunningStations int       `json:"runningStations"`
	ErrorStations   int       `json:"errorStations"`
	TotalAlerts     int       `json:"totalAlerts"`
	Timestamp       time.Time `json:"timestamp"`
}

// Health summarizes all stations. Active stations updated within the active window.
func (p *Projector) Health(ctx context.Context) (Health, error) {
	now := p.clock.Now()
	all, err := p.repo.List(ctx)
	if err != nil {
		return Health{Status: "error", Timestamp: now}, err
	}
	h := Health{Status: "healthy", TotalStations: len(all), Timestamp: now}
	cutoff := now.Add(-p.activeWindow)
	for _, s := range all {
		if !s.LastUpdate.Before(cutoff) {
			h.ActiveStations++
		}
		if s.IsRunning() {
			h.RunningStations++
		}
		if s.HasError() {
			h.ErrorStations++
		}
		h.TotalAlerts += s.AlertCount
	}
	return h, nil
}

func (p *Projector) filter(ctx context.Context, keep func(*station.Snapshot) bool) ([]*station.Snapshot, error) {
	all, err := p.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*station.Snapshot, 0, len(all))
	for _, s := range all {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out, nil
}
