package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var receivedAt = time.Date(2026, time.March, 2, 8, 30, 0, 0, time.UTC)

func mustDecode(t *testing.T, body string) Map {
	t.Helper()
	m, err := DecodeMap([]byte(body))
	require.NoError(t, err)
	return m
}

func TestNormalize_FullPayload(t *testing.T) {
	raw := mustDecode(t, `{
		"stationId": "WELDING_01",
		"timestamp": "2026-03-02T08:29:58.250Z",
		"processType": "welding",
		"location": "line-a",
		"sensors": {"temperature": 41.5, "power_consumption": 230},
		"production": {"status": "RUNNING", "count": 12},
		"alerts": {"overheat": false, "jam": true},
		"robotData": {"arm_speed": 1.2},
		"derivedMetrics": {"efficiency": 92},
		"unknown": {"ignored": true}
	}`)

	rec, err := Normalize(raw, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, "WELDING_01", rec.StationID)
	assert.Equal(t, time.Date(2026, time.March, 2, 8, 29, 58, 250_000_000, time.UTC), rec.Timestamp)
	assert.False(t, rec.TimestampFallback)
	assert.Equal(t, "welding", rec.ProcessType)
	assert.Equal(t, "line-a", rec.Location)
	assert.Equal(t, KindInt, rec.Sensors.Get("power_consumption").Kind())
	assert.Equal(t, KindFloat, rec.Sensors.Get("temperature").Kind())
	assert.Equal(t, 1, rec.AlertCount())

	eff, ok := rec.Efficiency()
	require.True(t, ok)
	assert.InDelta(t, 0.92, eff, 1e-9)
	assert.Empty(t, rec.Quality)
	assert.Empty(t, rec.InventoryData)
}

func TestNormalize_MissingStationID(t *testing.T) {
	_, err := Normalize(Map{"timestamp": String("2026-03-02T08:00:00Z")}, receivedAt)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = Normalize(Map{"stationId": String("  ")}, receivedAt)
	assert.True(t, IsValidation(err))
}

func TestNormalize_SnakeCaseStationID(t *testing.T) {
	rec, err := Normalize(Map{"station_id": String("PAINTING_02")}, receivedAt)
	require.NoError(t, err)
	assert.Equal(t, "PAINTING_02", rec.StationID)
}

func TestNormalize_BadTimestampFallsBackToReceipt(t *testing.T) {
	for _, ts := range []Value{String("yesterday-ish"), Null(), Bool(true), Int(-5)} {
		rec, err := Normalize(Map{"stationId": String("S1"), "timestamp": ts}, receivedAt)
		require.NoError(t, err)
		assert.Equal(t, receivedAt, rec.Timestamp)
		assert.True(t, rec.TimestampFallback)
	}
}

func TestNormalize_TimestampForms(t *testing.T) {
	want := time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)
	cases := map[string]Value{
		"rfc3339":   String("2026-03-02T10:00:00+02:00"),
		"no zone":   String("2026-03-02T08:00:00"),
		"space":     String("2026-03-02 08:00:00"),
		"seconds":   Int(want.Unix()),
		"millis":    Int(want.UnixMilli()),
		"float sec": Float(float64(want.Unix())),
	}
	for name, v := range cases {
		ts, ok := ParseTimestamp(v)
		require.True(t, ok, name)
		assert.True(t, want.Equal(ts), "%s: got %s", name, ts)
	}
}

func TestNormalize_RawSimulatorSections(t *testing.T) {
	raw := mustDecode(t, `{
		"station_id": "ASSEMBLY_03",
		"robot_specific": {"torque": 11},
		"conveyor_specific": {"belt_speed": 0.4},
		"inventory_specific": {"parts": 40},
		"quality_specific": {"defects": 0},
		"sensors": {"temperature": 35}
	}`)
	rec, err := Normalize(raw, receivedAt)
	require.NoError(t, err)

	merged := rec.MergedMetrics()
	assert.Len(t, merged, 4)
	eff, ok := rec.Efficiency()
	require.True(t, ok)
	assert.Equal(t, 1.0, eff)
}

func TestNormalize_NonMapSectionIsEmpty(t *testing.T) {
	rec, err := Normalize(Map{"stationId": String("S1"), "sensors": String("broken")}, receivedAt)
	require.NoError(t, err)
	assert.NotNil(t, rec.Sensors)
	assert.Empty(t, rec.Sensors)
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	sensors := Map{"temperature": Float(20)}
	raw := Map{"stationId": String("S1"), "sensors": Object(sensors)}
	rec, err := Normalize(raw, receivedAt)
	require.NoError(t, err)

	sensors["temperature"] = Float(99)
	temp, _ := rec.Temperature()
	assert.Equal(t, 20.0, temp)
}

func TestNormalize_DerivedMetricsNotOverwritten(t *testing.T) {
	raw := mustDecode(t, `{
		"stationId": "S1",
		"sensors": {"temperature": 70},
		"production": {"throughput_per_hour": 150},
		"quality": {"overall_score": 0.97},
		"derivedMetrics": {"qualityIndex": 0.5}
	}`)
	rec, err := Normalize(raw, receivedAt)
	require.NoError(t, err)

	assert.Equal(t, 0.0, rec.DerivedMetrics.Float("efficiency", -1))
	assert.Equal(t, 1.0, rec.DerivedMetrics.Float("performanceScore", -1))
	assert.Equal(t, 0.5, rec.DerivedMetrics.Float("qualityIndex", -1))
}

func TestValue_Coercions(t *testing.T) {
	assert.Equal(t, 3.5, String("3.5").AsFloat(0))
	assert.Equal(t, 7.0, String("n/a").AsFloat(7))
	assert.Equal(t, int64(2), Float(2.9).AsInt(0))
	assert.Equal(t, "12", Int(12).AsString(""))
	assert.True(t, String("true").AsBool(false))
	assert.False(t, String("true").IsTrue())
	assert.Nil(t, Int(1).AsMap())

	_, ok := Bool(true).FloatOK()
	assert.False(t, ok)
}

func TestDecodeMap_RejectsNonObject(t *testing.T) {
	_, err := DecodeMap([]byte(`[1,2]`))
	assert.ErrorIs(t, err, ErrNotObject)

	_, err = DecodeMap([]byte(`{bad`))
	assert.Error(t, err)
}
