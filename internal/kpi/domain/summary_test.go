package kpi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

var testNow = time.Date(2024, 5, 1, 10, 30, 15, 0, time.UTC)

func mustRecord(t *testing.T, raw telemetry.Map) Record {
	t.Helper()
	rec, err := NewRecord(raw, "id", testNow)
	require.NoError(t, err)
	return rec
}

func TestOEE(t *testing.T) {
	cases := []struct {
		rate float64
		want float64
	}{
		{50, 42.75},
		{80, 68.4},
		{100, 85.5},
		{200, 85.5},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, OEE(0.9, tc.rate, 0.95, 100), 1e-9, "rate %v", tc.rate)
	}
	assert.Zero(t, OEE(0.9, 50, 0.95, 0))
}

func TestHourlyRate(t *testing.T) {
	assert.InDelta(t, 40.0, HourlyRate(90), 1e-9)
	assert.Zero(t, HourlyRate(0))
	assert.Zero(t, HourlyRate(-3))
}

func TestNewRecordCoercesBareNumbers(t *testing.T) {
	rec := mustRecord(t, telemetry.Map{
		"station_id":     telemetry.String("ST001"),
		"timestamp":      telemetry.String("2024-05-01T10:00:00Z"),
		"total_cycles":   telemetry.Int(120),
		"runtime_hours":  telemetry.Float(7.5),
		"oee":            telemetry.Float(82.5),
		"fty":            telemetry.Object(telemetry.Map{"value": telemetry.Float(97.1), "target": telemetry.Int(95)}),
		"avg_cycle_time": telemetry.Object(telemetry.Map{"average": telemetry.Float(88.2)}),
	})

	assert.Equal(t, "ST001", rec.StationID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.False(t, rec.TimestampFallback)
	assert.EqualValues(t, 120, rec.TotalCycles)
	assert.InDelta(t, 7.5, rec.RuntimeHours, 1e-9)
	assert.InDelta(t, 82.5, rec.Value(MetricOEE), 1e-9)
	assert.InDelta(t, 97.1, rec.Value(MetricFTY), 1e-9)
	assert.InDelta(t, 88.2, rec.Value(MetricAvgCycleTime), 1e-9)
	assert.Zero(t, rec.Value(MetricOTD))

	fty, ok := rec.Metric(MetricFTY)
	require.True(t, ok)
	assert.EqualValues(t, 95, fty.Int("target", 0))
}

func TestNewRecordRequiresStation(t *testing.T) {
	_, err := NewRecord(telemetry.Map{"oee": telemetry.Float(1)}, "id", testNow)
	require.Error(t, err)
	assert.True(t, telemetry.IsValidation(err))
}

func TestNewRecordTimestampFallback(t *testing.T) {
	rec := mustRecord(t, telemetry.Map{"station_id": telemetry.String("ST1"), "timestamp": telemetry.String("yesterday")})
	assert.True(t, rec.TimestampFallback)
	assert.Equal(t, testNow, rec.Timestamp)
	assert.EqualValues(t, 0, rec.TotalCycles)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, DefaultDefaults(), testNow)

	assert.True(t, s.NoData)
	assert.Equal(t, NoDataMessage, s.Message)
	assert.Zero(t, s.ActiveStations)
	assert.Equal(t, 480, s.Production.Target)
	assert.InDelta(t, 90.0, s.Production.CycleTime, 1e-9)
	assert.Zero(t, s.Production.Current)
	assert.Zero(t, s.Production.HourlyRate)
	assert.Equal(t, Figures{}, s.KPI)
	assert.InDelta(t, 0.95, s.Quality.OverallScore, 1e-9)
	assert.Equal(t, "10:30:15", s.LastUpdated)
}

func TestSummarizeAveragesWithMissingMetrics(t *testing.T) {
	a := mustRecord(t, telemetry.Map{
		"station_id":     telemetry.String("A"),
		"oee":            telemetry.Float(80),
		"fty":            telemetry.Float(90),
		"otd":            telemetry.Float(95),
		"quality_score":  telemetry.Float(0.97),
		"throughput":     telemetry.Float(100.4),
		"avg_cycle_time": telemetry.Float(60),
	})
	b := mustRecord(t, telemetry.Map{
		"station_id":     telemetry.String("B"),
		"oee":            telemetry.Float(70),
		"throughput":     telemetry.Float(50.3),
		"avg_cycle_time": telemetry.Float(120),
	})

	s := Summarize([]Record{a, b}, DefaultDefaults(), testNow)

	assert.False(t, s.NoData)
	assert.Empty(t, s.Message)
	assert.Equal(t, 2, s.ActiveStations)
	assert.InDelta(t, 75.0, s.KPI.OEE, 1e-9)
	assert.InDelta(t, 45.0, s.KPI.FTY, 1e-9)
	assert.InDelta(t, 47.5, s.KPI.OTD, 1e-9)
	assert.InDelta(t, 0.485, s.Quality.OverallScore, 1e-9)
	assert.EqualValues(t, 151, s.Production.Current)
	assert.InDelta(t, 90.0, s.Production.CycleTime, 1e-9)
	assert.InDelta(t, 40.0, s.Production.HourlyRate, 1e-9)
	assert.InDelta(t, 150.7, s.TotalThroughput, 1e-9)
}

func TestBuildOverview(t *testing.T) {
	a := mustRecord(t, telemetry.Map{"station_id": telemetry.String("A"), "oee": telemetry.Float(80), "fty": telemetry.Float(91)})
	b := mustRecord(t, telemetry.Map{"station_id": telemetry.String("B"), "oee": telemetry.Float(71), "fty": telemetry.Float(90)})

	o := BuildOverview([]Record{a, b}, testNow)
	require.Len(t, o.Stations, 2)
	assert.Equal(t, 2, o.Summary.TotalStations)
	assert.InDelta(t, 75.5, o.Summary.AvgOEE, 1e-9)
	assert.InDelta(t, 90.5, o.Summary.AvgFTY, 1e-9)
	assert.False(t, o.NoData)

	empty := BuildOverview(nil, testNow)
	assert.True(t, empty.NoData)
	assert.NotNil(t, empty.Stations)
	assert.Empty(t, empty.Stations)
}
