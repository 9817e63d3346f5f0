package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factory-telemetry/internal/station/application/events"
	station "factory-telemetry/internal/station/domain"
	"factory-telemetry/internal/station/infrastructure/memory"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) advance(d time.Duration) { c.now = c.now.Add(d) }

var base = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newProjector(t *testing.T, opts ...Option) (*Projector, *fixedClock) {
	t.Helper()
	clock := &fixedClock{now: base}
	p, err := NewProjector(memory.NewRepository(), append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return p, clock
}

func record(t *testing.T, body string) telemetry.Record {
	t.Helper()
	raw, err := telemetry.DecodeMap([]byte(body))
	require.NoError(t, err)
	rec, err := telemetry.Normalize(raw, base)
	require.NoError(t, err)
	return rec
}

func TestNewProjector_NilRepository(t *testing.T) {
	_, err := NewProjector(nil)
	assert.Error(t, err)
}

func TestApplyTelemetry_SequentialReplay(t *testing.T) {
	p, clock := newProjector(t)
	ctx := context.Background()

	_, err := p.ApplyTelemetry(ctx, record(t, `{
		"stationId": "WELDING_01", "processType": "welding",
		"timestamp": "2026-03-02T08:59:00Z",
		"sensors": {"temperature": 40},
		"production": {"status": "RUNNING"},
		"alerts": {"jam": true, "overheat": true, "note": "x"},
		"robotData": {"speed": 1, "shared": "robot"},
		"qualityData": {"shared": "quality"},
		"derivedMetrics": {"efficiency": 0.9}
	}`))
	require.NoError(t, err)

	clock.advance(time.Second)
	snap, err := p.ApplyTelemetry(ctx, record(t, `{
		"stationId": "WELDING_01", "processType": "welding-2",
		"timestamp": "2026-03-02T08:59:30Z",
		"sensors": {"temperature": "hot"},
		"alerts": {"jam": false},
		"conveyorData": {"belt": 2}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "welding-2", snap.ProcessType)
	require.NotNil(t, snap.Temperature)
	assert.Equal(t, 40.0, *snap.Temperature, "non-numeric temperature is skipped")
	assert.Equal(t, "RUNNING", snap.Status)
	require.NotNil(t, snap.Efficiency)
	assert.Equal(t, 0.9, *snap.Efficiency)
	assert.Equal(t, 0, snap.AlertCount)
	assert.Equal(t, telemetry.Map{"belt": telemetry.Int(2)}, snap.Metrics)
	assert.Equal(t, telemetry.Map{"jam": telemetry.Bool(false)}, snap.CurrentAlerts)
	assert.Equal(t, base.Add(time.Second), snap.LastUpdate)
	assert.Equal(t, time.Date(2026, time.March, 2, 8, 59, 30, 0, time.UTC), snap.EventTime)

	stored, err := p.Get(ctx, "WELDING_01")
	require.NoError(t, err)
	assert.Equal(t, snap, stored)
}

func TestApplyTelemetry_MetricsMergeOrder(t *testing.T) {
	p, _ := newProjector(t)
	snap, err := p.ApplyTelemetry(context.Background(), record(t, `{
		"stationId": "S1",
		"robotData": {"k": "robot", "r": 1},
		"conveyorData": {"k": "conveyor"},
		"qualityData": {"k": "quality"},
		"inventoryData": {"k": "inventory", "i": 2},
		"alerts": {"a": true, "b": true, "c": 1}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "inventory", snap.Metrics.String("k", ""))
	assert.Len(t, snap.Metrics, 3)
	assert.Equal(t, 2, snap.AlertCount)
}

func TestApplyTelemetry_LateEventOverwritesByDefault(t *testing.T) {
	p, _ := newProjector(t)
	ctx := context.Background()
	_, err := p.ApplyTelemetry(ctx, record(t, `{"stationId":"S1","timestamp":"2026-03-02T08:00:00Z","production":{"status":"RUNNING"}}`))
	require.NoError(t, err)
	snap, err := p.ApplyTelemetry(ctx, record(t, `{"stationId":"S1","timestamp":"2026-03-02T07:00:00Z","production":{"status":"IDLE"}}`))
	require.NoError(t, err)
	assert.Equal(t, "IDLE", snap.Status)
}

func TestApplyTelemetry_StrictOrderingSkipsStale(t *testing.T) {
	p, _ := newProjector(t, WithStrictOrdering(true))
	ctx := context.Background()
	_, err := p.ApplyTelemetry(ctx, record(t, `{"stationId":"S1","timestamp":"2026-03-02T08:00:00Z","production":{"status":"RUNNING"}}`))
	require.NoError(t, err)
	snap, err := p.ApplyTelemetry(ctx, record(t, `{"stationId":"S1","timestamp":"2026-03-02T07:00:00Z","production":{"status":"IDLE"}}`))
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", snap.Status)

	stored, err := p.Get(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", stored.Status)
}

// exclusiveRepo fails the test if two goroutines are inside a
// read-modify-write for the same station at once.
type exclusiveRepo struct {
	*memory.Repository
	inFlight sync.Map
	overlaps atomic.Int32
}

func (r *exclusiveRepo) Get(ctx context.Context, id string) (*station.Snapshot, error) {
	counter, _ := r.inFlight.LoadOrStore(id, new(atomic.Int32))
	if counter.(*atomic.Int32).Add(1) > 1 {
		r.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
	return r.Repository.Get(ctx, id)
}

func (r *exclusiveRepo) Save(ctx context.Context, s *station.Snapshot) error {
	err := r.Repository.Save(ctx, s)
	counter, _ := r.inFlight.Load(s.StationID)
	counter.(*atomic.Int32).Add(-1)
	return err
}

func TestApplyStatusReport_SameStationSerialized(t *testing.T) {
	repo := &exclusiveRepo{Repository: memory.NewRepository()}
	p, err := NewProjector(repo)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stationID := fmt.Sprintf("S%d", i%4)
			_, err := p.ApplyStatusReport(context.Background(), telemetry.Map{
				"station_id":       telemetry.String(stationID),
				"production_count": telemetry.Int(int64(i)),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, repo.overlaps.Load())
	assert.Zero(t, p.locks.size())
	all, err := p.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestQueries_Thresholds(t *testing.T) {
	p, clock := newProjector(t)
	ctx := context.Background()
	_, err := p.ApplyTelemetry(ctx, record(t, `{"stationId":"HOT","sensors":{"temperature":81.0},"derivedMetrics":{"efficiency":0.92}}`))
	require.NoError(t, err)
	clock.advance(time.Second)
	_, err = p.ApplyTelemetry(ctx, record(t, `{"stationId":"COOL","sensors":{"temperature":35.0},"derivedMetrics":{"efficiency":0.99},"production":{"status":"RUNNING"}}`))
	require.NoError(t, err)

	hot, err := p.HighTemperature(ctx, 80.0)
	require.NoError(t, err)
	require.Len(t, hot, 1)
	assert.Equal(t, "HOT", hot[0].StationID)

	low, err := p.LowEfficiency(ctx, 0.95)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "HOT", low[0].StationID)

	low, err = p.LowEfficiency(ctx, 0.90)
	require.NoError(t, err)
	assert.Empty(t, low)

	list, err := p.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "COOL", list[0].StationID)

	running, err := p.CountRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	avg, err := p.AverageEfficiency(ctx)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 0.955, *avg, 1e-9)
}

func TestQueries_EmptyAggregates(t *testing.T) {
	p, _ := newProjector(t)
	ctx := context.Background()
	avg, err := p.AverageEfficiency(ctx)
	require.NoError(t, err)
	assert.Nil(t, avg)
	total, err := p.TotalAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	stats, err := p.StationStatistics(ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, stats.Found)
}

func TestApplyStatusReport_StatusPrecedence(t *testing.T) {
	p, _ := newProjector(t)
	ctx := context.Background()

	snap, err := p.ApplyStatusReport(ctx, telemetry.Map{
		"station_id":     telemetry.String("PAINTING_02"),
		"station_status": telemetry.String("ERROR"),
		"status":         telemetry.String("RUNNING"),
		"efficiency":     telemetry.Float(87.5),
		"cycle_time":     telemetry.Int(25),
		"timestamp":      telemetry.String("garbage"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ERROR", snap.Status)
	assert.True(t, snap.HasError())
	require.NotNil(t, snap.Efficiency)
	assert.InDelta(t, 0.875, *snap.Efficiency, 1e-9)
	assert.Equal(t, base, snap.EventTime)

	snap, err = p.ApplyStatusReport(ctx, telemetry.Map{
		"station_id": telemetry.String("PAINTING_02"),
		"status":     telemetry.String("RUNNING"),
	})
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", snap.Status)
	require.NotNil(t, snap.CycleTime)
	assert.Equal(t, 25.0, *snap.CycleTime)

	_, err = p.ApplyStatusReport(ctx, telemetry.Map{"status": telemetry.String("RUNNING")})
	assert.True(t, telemetry.IsValidation(err))
}

type capturePublisher struct {
	mu     sync.Mutex
	events []any
}

func (c *capturePublisher) Publish(_ context.Context, event any) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func TestApplyTelemetry_PublishesUpdate(t *testing.T) {
	pub := &capturePublisher{}
	p, _ := newProjector(t, WithPublisher(pub))
	_, err := p.ApplyTelemetry(context.Background(), record(t, `{"stationId":"S1"}`))
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	evt, ok := pub.events[0].(events.StationUpdated)
	require.True(t, ok)
	assert.Equal(t, "S1", evt.Snapshot.StationID)
	assert.Equal(t, "telemetry", evt.Source)
}

func TestHealth_CountsActiveAndErrors(t *testing.T) {
	p, clock := newProjector(t)
	ctx := context.Background()
	_, err := p.ApplyStatusReport(ctx, telemetry.Map{"station_id": telemetry.String("OLD"), "status": telemetry.String("FAULT")})
	require.NoError(t, err)
	clock.advance(10 * time.Minute)
	_, err = p.ApplyStatusReport(ctx, telemetry.Map{"station_id": telemetry.String("NEW"), "status": telemetry.String("RUNNING")})
	require.NoError(t, err)

	h, err := p.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, h.TotalStations)
	assert.Equal(t, 1, h.ActiveStations)
	assert.Equal(t, 1, h.RunningStations)
	assert.Equal(t, 1, h.ErrorStations)
}
