package application

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	station "factory-telemetry/internal/station/domain"
	"factory-telemetry/internal/telemetry/application/events"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// Projector folds records into station snapshots.
type Projector interface {
	ApplyTelemetry(ctx context.Context, rec telemetry.Record) (*station.Snapshot, error)
}

// Publisher receives TelemetryReceived events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// IngestService runs the telemetry pipeline: normalize, ship to the
// time-series store, keep the raw record, project station state.
type IngestService struct {
	repo      telemetry.RecordRepository
	writer    telemetry.PointWriter
	projector Projector
	publisher Publisher
	now       func() time.Time
	logger    logrus.FieldLogger
}

// IngestOption configures an IngestService.
type IngestOption func(*IngestService)

// WithPointWriter sets the time-series writer.
func WithPointWriter(w telemetry.PointWriter) IngestOption {
	return func(s *IngestService) { s.writer = w }
}

// WithIngestPublisher sets the TelemetryReceived publisher.
func WithIngestPublisher(p Publisher) IngestOption {
	return func(s *IngestService) { s.publisher = p }
}

// WithIngestClock overrides the clock.
func WithIngestClock(now func() time.Time) IngestOption {
	return func(s *IngestService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIngestLogger sets the logger.
func WithIngestLogger(logger logrus.FieldLogger) IngestOption {
	return func(s *IngestService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewIngestService constructs the pipeline.
func NewIngestService(repo telemetry.RecordRepository, projector Projector, opts ...IngestOption) (*IngestService, error) {
	if repo == nil {
		return nil, errors.New("telemetry ingest: nil repository")
	}
	if projector == nil {
		return nil, errors.New("telemetry ingest: nil projector")
	}
	s := &IngestService{
		repo:      repo,
		projector: projector,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest processes one raw payload. Time-series failures never fail the
// call; storage and projection failures do.
func (s *IngestService) Ingest(ctx context.Context, raw telemetry.Map, topic string) (telemetry.Record, error) {
	rec, err := telemetry.Normalize(raw, s.now())
	if err != nil {
		return telemetry.Record{}, err
	}
	if topic != "" {
		rec.Topic = topic
	}
	log := s.logger.WithField("station_id", rec.StationID)
	if rec.TimestampFallback {
		log.WithField("timestamp", rec.RawTimestamp).Warn("telemetry timestamp missing or unparsable, using receipt time")
	}

	written := true
	if s.writer != nil {
		written = s.writer.WriteRecord(ctx, rec)
		if !written {
			log.Debug("time-series write failed, continuing")
		}
	}

	if err := s.repo.Append(ctx, rec); err != nil {
		return telemetry.Record{}, err
	}
	if _, err := s.projector.ApplyTelemetry(ctx, rec); err != nil {
		return telemetry.Record{}, err
	}

	if s.publisher != nil {
		evt := events.TelemetryReceived{
			StationID:   rec.StationID,
			ProcessType: rec.ProcessType,
			Timestamp:   rec.Timestamp,
			Written:     written,
			Payload:     rec.Payload().Interface(),
			OccurredAt:  s.now(),
		}
		if err := s.publisher.Publish(ctx, evt); err != nil {
			log.WithError(err).Warn("publish telemetry received failed")
		}
	}
	return rec, nil
}
