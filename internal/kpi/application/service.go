package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/cache"
	kpi "factory-telemetry/internal/kpi/domain"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// Service appends KPI reports and serves rollups over the latest record per station.
type Service struct {
	repo     kpi.Repository
	cache    cache.Cache
	cacheTTL time.Duration
	defaults kpi.Defaults
	now      func() time.Time
	newID    func() string
	logger   logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables read-through caching of the factory summary.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithDefaults overrides the rollup fallbacks.
func WithDefaults(d kpi.Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a KPI service.
func NewService(repo kpi.Repository, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("kpi service: nil repository")
	}
	s := &Service{
		repo:     repo,
		cacheTTL: cache.DefaultTTL,
		defaults: kpi.DefaultDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest validates and appends a KPI report.
func (s *Service) Ingest(ctx context.Context, raw telemetry.Map) (kpi.Record, error) {
	rec, err := kpi.NewRecord(raw, s.newID(), s.now())
	if err != nil {
		return kpi.Record{}, err
	}
	if rec.TimestampFallback {
		s.logger.WithField("station_id", rec.StationID).Warn("kpi timestamp missing or unparsable, using receipt time")
	}
	if err := s.repo.Append(ctx, rec); err != nil {
		return kpi.Record{}, err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.KeyFactorySummary); err != nil {
			s.logger.WithError(err).Debug("invalidate factory summary failed")
		}
	}
	return rec, nil
}

// LatestPerStation returns the most recent record of each station.
func (s *Service) LatestPerStation(ctx context.Context) ([]kpi.Record, error) {
	return s.repo.LatestPerStation(ctx)
}

// StationKPI returns the latest record for one station.
func (s *Service) StationKPI(ctx context.Context, stationID string) (kpi.Record, error) {
	if stationID == "" {
		return kpi.Record{}, kpi.ErrEmptyStationID
	}
	return s.repo.LatestForStation(ctx, stationID)
}

// FactorySummary rolls the latest records up to factory scope.
func (s *Service) FactorySummary(ctx context.Context) (kpi.FactorySummary, error) {
	if s.cache != nil {
		var cached kpi.FactorySummary
		hit, err := s.cache.GetJSON(ctx, cache.KeyFactorySummary, &cached)
		if err != nil {
			s.logger.WithError(err).Debug("factory summary cache read failed")
		}
		if hit {
			return cached, nil
		}
	}

	latest, err := s.repo.LatestPerStation(ctx)
	if err != nil {
		return kpi.FactorySummary{}, err
	}
	summary := kpi.Summarize(latest, s.defaults, s.now())

	if s.cache != nil && !summary.NoData {
		if err := s.cache.SetJSON(ctx, cache.KeyFactorySummary, summary, s.cacheTTL); err != nil {
			s.logger.WithError(err).Debug("factory summary cache write failed")
		}
	}
	return summary, nil
}

// Overview returns flat per-station values with an OEE/FTY summary.
func (s *Service) Overview(ctx context.Context) (kpi.Overview, error) {
	latest, err := s.repo.LatestPerStation(ctx)
	if err != nil {
		return kpi.Overview{}, err
	}
	return kpi.BuildOverview(latest, s.now()), nil
}
