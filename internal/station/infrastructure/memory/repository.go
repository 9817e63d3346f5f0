package memory

import (
	"context"
	"sync"

	station "factory-telemetry/internal/station/domain"
)

// Repository keeps station snapshots in memory. Reads and writes copy
// snapshots so callers never share state with the store.
type Repository struct {
	mu   sync.RWMutex
	data map[string]*station.Snapshot
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]*station.Snapshot)}
}

// Get loads a snapshot by station id.
func (r *Repository) Get(ctx context.Context, stationID string) (*station.Snapshot, error) {
	_ = ctx
	if stationID == "" {
		return nil, station.ErrEmptyStationID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.data[stationID]
	if snap == nil {
		return nil, station.ErrStationNotFound
	}
	return snap.Clone(), nil
}

// Save upserts a snapshot.
func (r *Repository) Save(ctx context.Context, snapshot *station.Snapshot) error {
	_ = ctx
	if snapshot == nil {
		return station.ErrNilSnapshot
	}
	if snapshot.StationID == "" {
		return station.ErrEmptyStationID
	}
	r.mu.Lock()
	r.data[snapshot.StationID] = snapshot.Clone()
	r.mu.Unlock()
	return nil
}

// List returns copies of all snapshots in no particular order.
func (r *Repository) List(ctx context.Context) ([]*station.Snapshot, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*station.Snapshot, 0, len(r.data))
	for _, snap := range r.data {
		out = append(out, snap.Clone())
	}
	return out, nil
}
