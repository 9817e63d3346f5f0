package memory

import (
	"context"
	"sort"
	"sync"

	kpi "factory-telemetry/internal/kpi/domain"
)

// Repository keeps KPI records in memory, grouped by station.
type Repository struct {
	mu        sync.RWMutex
	byStation map[string][]kpi.Record
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{byStation: make(map[string][]kpi.Record)}
}

// Append stores a record.
func (r *Repository) Append(ctx context.Context, record kpi.Record) error {
	_ = ctx
	if record.StationID == "" {
		return kpi.ErrEmptyStationID
	}
	r.mu.Lock()
	r.byStation[record.StationID] = append(r.byStation[record.StationID], record)
	r.mu.Unlock()
	return nil
}

// LatestPerStation returns the max-timestamp record per station, ordered by station id.
// On equal timestamps the later append wins.
func (r *Repository) LatestPerStation(ctx context.Context) ([]kpi.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kpi.Record, 0, len(r.byStation))
	for _, records := range r.byStation {
		if latest, ok := latestOf(records); ok {
			out = append(out, latest)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out, nil
}

// LatestForStation returns the max-timestamp record of one station.
func (r *Repository) LatestForStation(ctx context.Context, stationID string) (kpi.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	latest, ok := latestOf(r.byStation[stationID])
	if !ok {
		return kpi.Record{}, kpi.ErrKPINotFound
	}
	return latest, nil
}

// Count returns the number of stored records.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, records := range r.byStation {
		n += len(records)
	}
	return n
}

func latestOf(records []kpi.Record) (kpi.Record, bool) {
	if len(records) == 0 {
		return kpi.Record{}, false
	}
	latest := records[0]
	for _, rec := range records[1:] {
		if !rec.Timestamp.Before(latest.Timestamp) {
			latest = rec
		}
	}
	return latest, true
}
