package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/observability/metrics"
	"factory-telemetry/internal/station/application/events"
	station "factory-telemetry/internal/station/domain"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

const (
	sourceTelemetry = "telemetry"
	sourceStatus    = "status_report"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// Publisher receives StationUpdated events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Projector maintains one snapshot per station. Updates to the same station
// are serialized; different stations proceed in parallel.
type Projector struct {
	repo      station.Repository
	locks     *keyedMutex
	clock     Clock
	publisher Publisher
	logger    logrus.FieldLogger

	strictOrdering     bool
	efficientThreshold float64
	activeWindow       time.Duration
}

// Option configures a Projector.
type Option func(*Projector)

// WithStrictOrdering skips events older than the snapshot's last event time.
func WithStrictOrdering(enabled bool) Option {
	return func(p *Projector) { p.strictOrdering = enabled }
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(p *Projector) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithPublisher sets the StationUpdated publisher.
func WithPublisher(publisher Publisher) Option {
	return func(p *Projector) { p.publisher = publisher }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Projector) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEfficientThreshold sets the 0-1 efficiency used by station statistics.
func WithEfficientThreshold(threshold float64) Option {
	return func(p *Projector) {
		if threshold > 0 {
			p.efficientThreshold = threshold
		}
	}
}

// WithActiveWindow sets how recently a station must have updated to count as active.
func WithActiveWindow(window time.Duration) Option {
	return func(p *Projector) {
		if window > 0 {
			p.activeWindow = window
		}
	}
}

// NewProjector constructs a projector.
func NewProjector(repo station.Repository, opts ...Option) (*Projector, error) {
	if repo == nil {
		return nil, errors.New("station projector: nil repository")
	}
	p := &Projector{
		repo:               repo,
		locks:              newKeyedMutex(),
		clock:              systemClock{},
		logger:             logrus.StandardLogger(),
		efficientThreshold: station.DefaultEfficientThreshold,
		activeWindow:       5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ApplyTelemetry folds a canonical record into its station snapshot.
func (p *Projector) ApplyTelemetry(ctx context.Context, rec telemetry.Record) (*station.Snapshot, error) {
	if rec.StationID == "" {
		return nil, station.ErrEmptyStationID
	}
	return p.update(ctx, rec.StationID, rec.Timestamp, sourceTelemetry, func(s *station.Snapshot) {
		s.ProcessType = rec.ProcessType
		if temp, ok := rec.Temperature(); ok {
			s.Temperature = &temp
		}
		if status, ok := rec.Status(); ok {
			s.Status = status
		}
		if eff, ok := rec.Efficiency(); ok {
			s.Efficiency = &eff
		}
		s.AlertCount = rec.AlertCount()
		s.Metrics = rec.MergedMetrics()
		s.CurrentAlerts = rec.Alerts.Clone()
	})
}

// ApplyStatusReport applies a direct station status report. The status is
// read from station_status, falling back to status.
func (p *Projector) ApplyStatusReport(ctx context.Context, report telemetry.Map) (*station.Snapshot, error) {
	stationID := strings.TrimSpace(report.String("station_id", report.String("stationId", "")))
	if stationID == "" {
		return nil, &telemetry.ValidationError{Field: "station_id", Reason: "required"}
	}

	eventTime, ok := telemetry.ParseTimestamp(report.Get("timestamp"))
	if !ok {
		if report.Has("timestamp") {
			p.logger.WithFields(logrus.Fields{
				"station_id": stationID,
				"timestamp":  report.String("timestamp", ""),
			}).Warn("status report timestamp unparsable, using receipt time")
		}
		eventTime = p.clock.Now()
	}

	return p.update(ctx, stationID, eventTime, sourceStatus, func(s *station.Snapshot) {
		if v, ok := report.First("station_name"); ok {
			s.StationName = v.AsString(s.StationName)
		}
		if v, ok := report.First("station_status", "status"); ok {
			s.Status = v.AsString(s.Status)
		}
		if v, ok := report.First("current_operation"); ok {
			s.CurrentOperation = v.AsString(s.CurrentOperation)
		}
		if v, ok := report.Get("cycle_time").FloatOK(); ok {
			s.CycleTime = &v
		}
		if v, ok := report.Get("target_cycle_time").FloatOK(); ok {
			s.TargetCycleTime = &v
		}
		if report.Get("production_count").IsNumber() {
			v := report.Int("production_count", 0)
			s.ProductionCount = &v
		}
		if v, ok := report.Get("progress").FloatOK(); ok {
			s.Progress = &v
		}
		if v, ok := report.Get("efficiency").FloatOK(); ok {
			v = telemetry.NormalizeRatio(v)
			s.Efficiency = &v
		}
		if v, ok := report.First("process_type", "processType"); ok {
			s.ProcessType = v.AsString(s.ProcessType)
		}
	})
}

func (p *Projector) update(ctx context.Context, stationID string, eventTime time.Time, source string, mutate func(*station.Snapshot)) (*station.Snapshot, error) {
	unlock := p.locks.Lock(stationID)

	snap, err := p.repo.Get(ctx, stationID)
	switch {
	case errors.Is(err, station.ErrStationNotFound):
		snap = station.New(stationID)
	case err != nil:
		unlock()
		metrics.IncStationUpdate(source, metrics.ResultError)
		return nil, err
	}

	if p.strictOrdering && !snap.EventTime.IsZero() && eventTime.Before(snap.EventTime) {
		unlock()
		metrics.IncStationUpdate(source, "stale")
		p.logger.WithFields(logrus.Fields{
			"station_id": stationID,
			"event_time": eventTime,
			"last_event": snap.EventTime,
		}).Debug("skipping out-of-order station event")
		return snap, nil
	}

	mutate(snap)
	snap.EventTime = eventTime
	snap.LastUpdate = p.clock.Now()

	if err := p.repo.Save(ctx, snap); err != nil {
		unlock()
		metrics.IncStationUpdate(source, metrics.ResultError)
		return nil, err
	}
	published := snap.Clone()
	unlock()

	metrics.IncStationUpdate(source, metrics.ResultSuccess)
	if p.publisher != nil {
		evt := events.StationUpdated{Snapshot: published, Source: source, OccurredAt: snap.LastUpdate}
		if err := p.publisher.Publish(ctx, evt); err != nil {
			p.logger.WithError(err).WithField("station_id", stationID).Warn("publish station update failed")
		}
	}
	return snap, nil
}
