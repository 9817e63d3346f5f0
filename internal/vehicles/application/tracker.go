package application

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/observability/metrics"
	telemetry "factory-telemetry/internal/telemetry/domain"
	vehicles "factory-telemetry/internal/vehicles/domain"
)

// Publisher receives FleetUpdated events.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

type snapshot struct {
	payload telemetry.Map
}

// Tracker holds the latest fleet view and one record per vehicle. Vehicle
// upserts are per key; the fleet view and the external production stats are
// swapped atomically.
type Tracker struct {
	vehicles sync.Map
	count    atomic.Int64
	fleet    atomic.Pointer[snapshot]
	stats    atomic.Pointer[snapshot]

	now               func() time.Time
	minutesPerStation int
	publisher         Publisher
	logger            logrus.FieldLogger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithMinutesPerStation sets the per-station ETA estimate.
func WithMinutesPerStation(minutes int) Option {
	return func(t *Tracker) {
		if minutes > 0 {
			t.minutesPerStation = minutes
		}
	}
}

// WithPublisher sets the FleetUpdated publisher.
func WithPublisher(p Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTracker constructs an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		now:               func() time.Time { return time.Now().UTC() },
		minutesPerStation: vehicles.MinutesPerStation,
		logger:            logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ApplyFleetSnapshot replaces the fleet view and upserts every vehicle entry
// by vehicle_id. Vehicles missing from the snapshot are kept.
func (t *Tracker) ApplyFleetSnapshot(ctx context.Context, payload telemetry.Map) (int, error) {
	if list := payload.Get("vehicles"); !list.IsNull() && list.Kind() != telemetry.KindList {
		return 0, &telemetry.ValidationError{Field: "vehicles", Reason: "must be a list"}
	}
	now := t.now()
	view := payload.Clone()
	view["server_timestamp"] = telemetry.String(now.Format(time.RFC3339Nano))
	t.fleet.Store(&snapshot{payload: view})

	applied := 0
	for _, item := range payload.Get("vehicles").AsList() {
		entry := item.AsMap()
		if entry == nil {
			continue
		}
		v, ok := vehicles.NewVehicle(entry, now)
		if !ok {
			continue
		}
		if _, loaded := t.vehicles.Swap(v.ID, v); !loaded {
			t.count.Add(1)
		}
		applied++
	}
	metrics.SetTrackedVehicles(int(t.count.Load()))

	t.logger.WithFields(logrus.Fields{
		"total_vehicles": payload.Int("total_vehicles", 0),
		"applied":        applied,
	}).Info("fleet snapshot applied")

	if t.publisher != nil {
		evt := vehicles.FleetUpdated{
			TotalVehicles:  payload.Int("total_vehicles", 0),
			ActiveVehicles: payload.Int("active_vehicles", 0),
			Applied:        applied,
			OccurredAt:     now,
		}
		if err := t.publisher.Publish(ctx, evt); err != nil {
			t.logger.WithError(err).Warn("publish fleet update failed")
		}
	}
	return applied, nil
}

// ApplyProductionStats stores an externally computed production stats payload.
func (t *Tracker) ApplyProductionStats(payload telemetry.Map) {
	stats := payload.Clone()
	stats["server_timestamp"] = telemetry.String(t.now().Format(time.RFC3339Nano))
	t.stats.Store(&snapshot{payload: stats})
}

// CurrentFleet returns the last fleet snapshot, or an empty fleet when none
// has been received.
func (t *Tracker) CurrentFleet() telemetry.Map {
	if s := t.fleet.Load(); s != nil {
		return s.payload.Clone()
	}
	return telemetry.Map{
		"timestamp":         telemetry.String(t.now().Format(time.RFC3339Nano)),
		"total_vehicles":    telemetry.Int(0),
		"active_vehicles":   telemetry.Int(0),
		"vehicles":          telemetry.List(),
		"station_sequence":  telemetry.List(),
		"station_positions": telemetry.Object(telemetry.Map{}),
	}
}

// Vehicle returns the stored record.
func (t *Tracker) Vehicle(id string) (vehicles.Vehicle, bool) {
	raw, ok := t.vehicles.Load(id)
	if !ok {
		return vehicles.Vehicle{}, false
	}
	return raw.(vehicles.Vehicle), true
}

// VehicleDetails returns the vehicle with progress and ETA.
func (t *Tracker) VehicleDetails(id string) (telemetry.Map, bool) {
	v, ok := t.Vehicle(id)
	if !ok {
		return nil, false
	}
	return v.Details(t.minutesPerStation), true
}

// VehiclesAtStation returns the vehicles positioned at stationID, ordered by id.
func (t *Tracker) VehiclesAtStation(stationID string) []telemetry.Map {
	var found []vehicles.Vehicle
	t.vehicles.Range(func(_, value any) bool {
		v := value.(vehicles.Vehicle)
		if v.StationID() == stationID {
			found = append(found, v)
		}
		return true
	})
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	out := make([]telemetry.Map, 0, len(found))
	for _, v := range found {
		out = append(out, v.Fields.Clone())
	}
	return out
}

// ProductionStatistics merges live vehicle counts over the last external
// stats payload. Live keys win.
func (t *Tracker) ProductionStatistics() telemetry.Map {
	var total, completed, failed, active int64
	t.vehicles.Range(func(_, value any) bool {
		v := value.(vehicles.Vehicle)
		total++
		switch {
		case v.Status() == vehicles.StatusCompleted:
			completed++
		case v.Status() == vehicles.StatusFailed:
			failed++
		case v.IsActive():
			active++
		}
		return true
	})
	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total) * 100
	}

	out := telemetry.Map{}
	if s := t.stats.Load(); s != nil {
		out = s.payload.Clone()
	}
	out["real_time_total_vehicles"] = telemetry.Int(total)
	out["real_time_completed_vehicles"] = telemetry.Int(completed)
	out["real_time_failed_vehicles"] = telemetry.Int(failed)
	out["real_time_active_vehicles"] = telemetry.Int(active)
	out["real_time_completion_rate"] = telemetry.Float(roundOne(rate))
	out["last_calculated"] = telemetry.String(t.now().Format(time.RFC3339Nano))
	return out
}

// Remove evicts one vehicle.
func (t *Tracker) Remove(id string) bool {
	if _, loaded := t.vehicles.LoadAndDelete(id); loaded {
		metrics.SetTrackedVehicles(int(t.count.Add(-1)))
		return true
	}
	return false
}

// Clear drops every vehicle, the fleet view and the production stats.
func (t *Tracker) Clear() {
	t.vehicles.Range(func(key, _ any) bool {
		if _, loaded := t.vehicles.LoadAndDelete(key); loaded {
			t.count.Add(-1)
		}
		return true
	})
	t.fleet.Store(nil)
	t.stats.Store(nil)
	metrics.SetTrackedVehicles(int(t.count.Load()))
	t.logger.Info("vehicle tracking state cleared")
}

// Count returns the number of tracked vehicles.
func (t *Tracker) Count() int {
	return int(t.count.Load())
}

func roundOne(v float64) float64 {
	return math.Round(v*10) / 10
}
