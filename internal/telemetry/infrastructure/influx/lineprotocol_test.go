package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

var pointTS = time.Unix(1_700_000_000, 123).UTC()

func TestEncodePoint_EscapesTagsAndTypesFields(t *testing.T) {
	line := EncodePoint("measurement", map[string]string{"a": "x y"}, map[string]any{"n": 1, "s": "hi"}, pointTS)
	assert.Equal(t, `measurement,a=x\ y n=1i,s="hi" 1700000000000000123`, line)
}

func TestEncodePoint_Deterministic(t *testing.T) {
	tags := map[string]string{"z": "1", "a": "2", "m": "3"}
	fields := map[string]any{"b": 2.5, "a": true, "c": int64(3)}
	first := EncodePoint("m", tags, fields, pointTS)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, EncodePoint("m", tags, fields, pointTS))
	}
	assert.Equal(t, "m,a=2,m=3,z=1 a=true,b=2.5,c=3i 1700000000000000123", first)
}

func TestEncodePoint_Escaping(t *testing.T) {
	line := EncodePoint("cpu load,x", map[string]string{"host name": "a=b,c"}, map[string]any{
		"msg": `say "hi" \ bye`,
	}, time.Time{})
	assert.Equal(t, `cpu\ load\,x,host\ name=a\=b\,c msg="say \"hi\" \\ bye"`, line)
}

func TestEncodePoint_SentinelWhenNoFields(t *testing.T) {
	assert.Equal(t, "heartbeat value=1.0 1700000000000000123", EncodePoint("heartbeat", nil, nil, pointTS))
	assert.Equal(t, "heartbeat value=1.0", EncodePoint("heartbeat", nil, map[string]any{"bad": []int{1}}, time.Time{}))
}

func TestEncodePoint_Floats(t *testing.T) {
	line := EncodePoint("m", nil, map[string]any{"whole": 3.0, "frac": 0.25, "nan": nanValue()}, time.Time{})
	assert.Equal(t, "m frac=0.25,whole=3.0", line)
}

func TestEncodePoint_TelemetryValues(t *testing.T) {
	line := EncodePoint("m", nil, map[string]any{
		"i": telemetry.Int(4),
		"f": telemetry.Float(4),
		"b": telemetry.Bool(false),
		"s": telemetry.String("ok"),
		"n": telemetry.Null(),
	}, time.Time{})
	assert.Equal(t, `m b=false,f=4.0,i=4i,s="ok"`, line)
}

func TestEncodePoint_EmptyTagValuesSkipped(t *testing.T) {
	line := EncodePoint("m", map[string]string{"station_id": "S1", "location": ""}, map[string]any{"v": 1}, time.Time{})
	assert.Equal(t, "m,station_id=S1 v=1i", line)
}

func TestRecordPoints_OnePerSection(t *testing.T) {
	rec := telemetry.Record{
		StationID:   "WELDING_01",
		ProcessType: "welding",
		Timestamp:   pointTS,
		Sensors:     telemetry.Map{"temperature": telemetry.Float(40.5)},
		Alerts:      telemetry.Map{"jam": telemetry.Bool(true)},
		RobotData: telemetry.Map{
			"arm": telemetry.Object(telemetry.Map{"speed": telemetry.Int(3)}),
			"log": telemetry.List(telemetry.Int(1)),
		},
	}
	lines := RecordPoints(rec)
	require.Len(t, lines, 3)
	assert.Equal(t, "sensors,process_type=welding,station_id=WELDING_01 temperature=40.5 1700000000000000123", lines[0])
	assert.Equal(t, "alerts,process_type=welding,station_id=WELDING_01 jam=true 1700000000000000123", lines[1])
	assert.Equal(t, "robot_data,process_type=welding,station_id=WELDING_01 arm_speed=3i 1700000000000000123", lines[2])
}

func TestRecordPoints_Heartbeat(t *testing.T) {
	lines := RecordPoints(telemetry.Record{StationID: "S1", Timestamp: pointTS})
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "telemetry,station_id=S1 value=1.0"))
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
