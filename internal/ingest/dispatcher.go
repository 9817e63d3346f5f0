package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	kpi "factory-telemetry/internal/kpi/domain"
	"factory-telemetry/internal/observability/metrics"
	station "factory-telemetry/internal/station/domain"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// Kinds accepted by the dispatcher.
const (
	KindTelemetry       = metrics.KindTelemetry
	KindKPI             = metrics.KindKPI
	KindVehicles        = metrics.KindVehicles
	KindStationStatus   = metrics.KindStationStatus
	KindProductionStats = metrics.KindProductionStats
)

// Kinds lists every kind in subject order.
var Kinds = []string{KindTelemetry, KindKPI, KindVehicles, KindStationStatus, KindProductionStats}

var (
	ErrUnknownKind    = errors.New("ingest: unknown kind")
	ErrNotEnabled     = errors.New("ingest: kind not enabled")
	ErrInvalidPayload = errors.New("ingest: invalid payload")
)

type TelemetryIngester interface {
	Ingest(ctx context.Context, raw telemetry.Map, topic string) (telemetry.Record, error)
}

type KPIIngester interface {
	Ingest(ctx context.Context, raw telemetry.Map) (kpi.Record, error)
}

type StatusApplier interface {
	ApplyStatusReport(ctx context.Context, report telemetry.Map) (*station.Snapshot, error)
}

type FleetApplier interface {
	ApplyFleetSnapshot(ctx context.Context, payload telemetry.Map) (int, error)
	ApplyProductionStats(payload telemetry.Map)
}

// Ack is the reply to an ingest call.
type Ack struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher routes raw payloads to the owning service and records ingest metrics.
// HTTP handlers and the broker bridge share it.
type Dispatcher struct {
	telemetry TelemetryIngester
	kpi       KPIIngester
	status    StatusApplier
	fleet     FleetApplier
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithTelemetry(svc TelemetryIngester) Option { return func(d *Dispatcher) { d.telemetry = svc } }
func WithKPI(svc KPIIngester) Option             { return func(d *Dispatcher) { d.kpi = svc } }
func WithStatus(svc StatusApplier) Option        { return func(d *Dispatcher) { d.status = svc } }
func WithFleet(svc FleetApplier) Option          { return func(d *Dispatcher) { d.fleet = svc } }

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher. Kinds without a service are rejected at Handle time.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		now:    func() time.Time { return time.Now().UTC() },
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle decodes body and applies it as the given kind.
func (d *Dispatcher) Handle(ctx context.Context, kind, topic string, body []byte) (Ack, error) {
	start := time.Now()
	message, err := d.handle(ctx, kind, topic, body)
	if err != nil {
		metrics.ObserveIngest(kind, metrics.ResultError, time.Since(start))
		metrics.IncIngestError(kind, reason(err))
		d.logger.WithError(err).WithFields(logrus.Fields{"kind": kind, "topic": topic}).Warn("ingest failed")
		return Ack{Status: "error", Message: err.Error(), Timestamp: d.now()}, err
	}
	metrics.ObserveIngest(kind, metrics.ResultSuccess, time.Since(start))
	return Ack{Status: "success", Message: message, Timestamp: d.now()}, nil
}

func (d *Dispatcher) handle(ctx context.Context, kind, topic string, body []byte) (string, error) {
	payload, err := telemetry.DecodeMap(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch kind {
	case KindTelemetry:
		if d.telemetry == nil {
			return "", ErrNotEnabled
		}
		rec, err := d.telemetry.Ingest(ctx, payload, topic)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("telemetry for %s processed", rec.StationID), nil
	case KindKPI:
		if d.kpi == nil {
			return "", ErrNotEnabled
		}
		rec, err := d.kpi.Ingest(ctx, payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("kpi for %s processed", rec.StationID), nil
	case KindStationStatus:
		if d.status == nil {
			return "", ErrNotEnabled
		}
		snap, err := d.status.ApplyStatusReport(ctx, payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("status for %s saved", snap.StationID), nil
	case KindVehicles:
		if d.fleet == nil {
			return "", ErrNotEnabled
		}
		applied, err := d.fleet.ApplyFleetSnapshot(ctx, payload)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("fleet snapshot processed (%d vehicles)", applied), nil
	case KindProductionStats:
		if d.fleet == nil {
			return "", ErrNotEnabled
		}
		d.fleet.ApplyProductionStats(payload)
		return "production stats saved", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_json"
	case telemetry.IsValidation(err):
		return "validation"
	case errors.Is(err, ErrUnknownKind), errors.Is(err, ErrNotEnabled):
		return "unsupported"
	default:
		return "processing"
	}
}
