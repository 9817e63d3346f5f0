package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

const defaultRetention = 10000

// Repository keeps the most recent raw records in memory. The oldest records
// are dropped once retention is reached; the per-station latest view and the
// total count are kept regardless.
type Repository struct {
	mu        sync.RWMutex
	records   []telemetry.Record
	latest    map[string]telemetry.Record
	total     int64
	retention int
}

// Option configures the repository.
type Option func(*Repository)

// WithRetention caps the number of records kept for Recent and CountSince.
func WithRetention(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.retention = n
		}
	}
}

// NewRepository constructs a repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		latest:    make(map[string]telemetry.Record),
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append stores a record.
func (r *Repository) Append(ctx context.Context, record telemetry.Record) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	if over := len(r.records) - r.retention; over > 0 {
		r.records = append(r.records[:0:0], r.records[over:]...)
	}
	if prev, ok := r.latest[record.StationID]; !ok || !record.Timestamp.Before(prev.Timestamp) {
		r.latest[record.StationID] = record
	}
	r.total++
	return nil
}

// LatestPerStation returns the newest record of each station ordered by station id.
func (r *Repository) LatestPerStation(ctx context.Context) ([]telemetry.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]telemetry.Record, 0, len(r.latest))
	for _, rec := range r.latest {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StationID < out[j].StationID })
	return out, nil
}

// Recent returns up to limit records, newest first by receipt.
func (r *Repository) Recent(ctx context.Context, limit int) ([]telemetry.Record, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]telemetry.Record, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

// Count returns the number of records ever appended.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total, nil
}

// CountSince counts retained records received at or after since.
func (r *Repository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, rec := range r.records {
		if !rec.ReceivedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
