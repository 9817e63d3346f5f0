package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "factory-telemetry/internal/telemetry/domain"
	vehicles "factory-telemetry/internal/vehicles/domain"
)

var fixedNow = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func newTracker(opts ...Option) *Tracker {
	return NewTracker(append([]Option{WithNow(func() time.Time { return fixedNow })}, opts...)...)
}

func vehicle(id, status, station string, index, total int64) telemetry.Value {
	return telemetry.Object(telemetry.Map{
		"vehicle_id":            telemetry.String(id),
		"status":                telemetry.String(status),
		"current_station_index": telemetry.Int(index),
		"total_stations":        telemetry.Int(total),
		"position":              telemetry.Object(telemetry.Map{"station_id": telemetry.String(station)}),
	})
}

func fleet(items ...telemetry.Value) telemetry.Map {
	return telemetry.Map{
		"total_vehicles":   telemetry.Int(int64(len(items))),
		"vehicles":         telemetry.List(items...),
		"station_sequence": telemetry.List(telemetry.String("A01"), telemetry.String("A02")),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func TestApplyFleetSnapshotUpsertsVehicles(t *testing.T) {
	pub := &recordingPublisher{}
	tr := newTracker(WithPublisher(pub))

	applied, err := tr.ApplyFleetSnapshot(context.Background(), fleet(
		vehicle("V1", vehicles.StatusMoving, "A01", 2, 8),
		vehicle("V2", vehicles.StatusCompleted, "A02", 8, 8),
		telemetry.Object(telemetry.Map{"status": telemetry.String("moving")}),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 2, tr.Count())

	v, ok := tr.Vehicle("V1")
	require.True(t, ok)
	assert.Equal(t, fixedNow, v.LastUpdated)
	assert.Equal(t, fixedNow.Format(time.RFC3339Nano), v.Fields.String("last_updated", ""))

	require.Len(t, pub.events, 1)
	evt := pub.events[0].(vehicles.FleetUpdated)
	assert.Equal(t, 2, evt.Applied)
}

func TestApplyFleetSnapshotRejectsNonListVehicles(t *testing.T) {
	tr := newTracker()
	_, err := tr.ApplyFleetSnapshot(context.Background(), telemetry.Map{"vehicles": telemetry.String("nope")})
	require.Error(t, err)
	assert.True(t, telemetry.IsValidation(err))
}

func TestVehiclesOmittedFromLaterSnapshotRemain(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	_, err := tr.ApplyFleetSnapshot(ctx, fleet(vehicle("V1", "moving", "A01", 1, 4), vehicle("V2", "moving", "A01", 1, 4)))
	require.NoError(t, err)
	_, err = tr.ApplyFleetSnapshot(ctx, fleet(vehicle("V2", "in_process", "A02", 2, 4)))
	require.NoError(t, err)

	_, ok := tr.VehicleDetails("V1")
	assert.True(t, ok)
	assert.Equal(t, 2, tr.Count())

	current := tr.CurrentFleet()
	assert.EqualValues(t, 1, current.Int("total_vehicles", -1))
	assert.True(t, current.Has("server_timestamp"))
}

func TestVehicleDetails(t *testing.T) {
	tr := newTracker()
	_, err := tr.ApplyFleetSnapshot(context.Background(), fleet(vehicle("V1", "moving", "A01", 1, 3)))
	require.NoError(t, err)

	details, ok := tr.VehicleDetails("V1")
	require.True(t, ok)
	assert.InDelta(t, 33.3, details.Float("overall_progress", 0), 1e-9)
	assert.EqualValues(t, 10, details.Int("estimated_completion_minutes", 0))

	_, ok = tr.VehicleDetails("missing")
	assert.False(t, ok)
}

func TestVehiclesAtStation(t *testing.T) {
	tr := newTracker()
	_, err := tr.ApplyFleetSnapshot(context.Background(), fleet(
		vehicle("V2", "moving", "A01", 1, 4),
		vehicle("V1", "moving", "A01", 1, 4),
		vehicle("V3", "moving", "B01", 3, 4),
	))
	require.NoError(t, err)

	at := tr.VehiclesAtStation("A01")
	require.Len(t, at, 2)
	assert.Equal(t, "V1", at[0].String("vehicle_id", ""))
	assert.Equal(t, "V2", at[1].String("vehicle_id", ""))
	assert.Empty(t, tr.VehiclesAtStation("Z99"))
}

func TestProductionStatisticsLiveKeysWin(t *testing.T) {
	tr := newTracker()
	tr.ApplyProductionStats(telemetry.Map{
		"daily_target":             telemetry.Int(100),
		"real_time_total_vehicles": telemetry.Int(999),
	})
	_, err := tr.ApplyFleetSnapshot(context.Background(), fleet(
		vehicle("V1", vehicles.StatusCompleted, "A01", 4, 4),
		vehicle("V2", vehicles.StatusFailed, "A01", 2, 4),
		vehicle("V3", vehicles.StatusWaiting, "A01", 0, 4),
	))
	require.NoError(t, err)

	stats := tr.ProductionStatistics()
	assert.EqualValues(t, 100, stats.Int("daily_target", 0))
	assert.EqualValues(t, 3, stats.Int("real_time_total_vehicles", 0))
	assert.EqualValues(t, 1, stats.Int("real_time_completed_vehicles", 0))
	assert.EqualValues(t, 1, stats.Int("real_time_failed_vehicles", 0))
	assert.EqualValues(t, 1, stats.Int("real_time_active_vehicles", 0))
	assert.InDelta(t, 33.3, stats.Float("real_time_completion_rate", 0), 1e-9)
}

func TestEmptyTracker(t *testing.T) {
	tr := newTracker()
	current := tr.CurrentFleet()
	assert.EqualValues(t, 0, current.Int("total_vehicles", -1))
	assert.Empty(t, current.Get("vehicles").AsList())

	stats := tr.ProductionStatistics()
	assert.InDelta(t, 0.0, stats.Float("real_time_completion_rate", -1), 1e-9)
}

func TestRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	_, err := tr.ApplyFleetSnapshot(ctx, fleet(vehicle("V1", "moving", "A01", 1, 4), vehicle("V2", "moving", "A01", 1, 4)))
	require.NoError(t, err)

	assert.True(t, tr.Remove("V1"))
	assert.False(t, tr.Remove("V1"))
	assert.Equal(t, 1, tr.Count())

	tr.Clear()
	assert.Zero(t, tr.Count())
	_, ok := tr.Vehicle("V2")
	assert.False(t, ok)
	assert.EqualValues(t, 0, tr.CurrentFleet().Int("total_vehicles", -1))
}

func TestConcurrentSnapshots(t *testing.T) {
	ctx := context.Background()
	tr := newTracker()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("V%d-%d", w, i%10)
				_, _ = tr.ApplyFleetSnapshot(ctx, fleet(vehicle(id, "moving", "A01", 1, 4)))
				_ = tr.ProductionStatistics()
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 80, tr.Count())
}
