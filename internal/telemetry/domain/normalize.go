package telemetry

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var sectionAliases = map[string][]string{
	SectionSensors:        {"sensors"},
	SectionProduction:     {"production"},
	SectionQuality:        {"quality"},
	SectionAlerts:         {"alerts"},
	SectionRobotData:      {"robotData", "robot_specific", "robot_data"},
	SectionConveyorData:   {"conveyorData", "conveyor_specific", "conveyor_data"},
	SectionQualityData:    {"qualityData", "quality_specific", "quality_data"},
	SectionInventoryData:  {"inventoryData", "inventory_specific", "inventory_data"},
	SectionDerivedMetrics: {"derivedMetrics", "derived_metrics"},
}

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Normalize coerces a raw payload into a canonical Record. Only a missing
// station id is an error; every other field degrades to a default.
func Normalize(raw Map, now time.Time) (Record, error) {
	stationValue, _ := raw.First("stationId", "station_id")
	stationID := strings.TrimSpace(stationValue.AsString(""))
	if stationID == "" {
		return Record{}, &ValidationError{Field: "stationId", Reason: "required"}
	}

	now = now.UTC()
	rec := Record{
		StationID:  stationID,
		ReceivedAt: now,
	}

	tsValue, _ := raw.First("timestamp", "ts")
	rec.RawTimestamp = tsValue.AsString("")
	if ts, ok := ParseTimestamp(tsValue); ok {
		rec.Timestamp = ts
	} else {
		rec.Timestamp = now
		rec.TimestampFallback = true
	}

	if v, ok := raw.First("processType", "process_type"); ok {
		rec.ProcessType = v.AsString("")
	}
	rec.Location = raw.String("location", "")
	rec.Topic = raw.String("topic", "")

	rec.Sensors = section(raw, SectionSensors)
	rec.Production = section(raw, SectionProduction)
	rec.Quality = section(raw, SectionQuality)
	rec.Alerts = section(raw, SectionAlerts)
	rec.RobotData = section(raw, SectionRobotData)
	rec.ConveyorData = section(raw, SectionConveyorData)
	rec.QualityData = section(raw, SectionQualityData)
	rec.InventoryData = section(raw, SectionInventoryData)
	rec.DerivedMetrics = section(raw, SectionDerivedMetrics)

	deriveMetrics(&rec)
	return rec, nil
}

func section(raw Map, name string) Map {
	for _, key := range sectionAliases[name] {
		if m := raw.Map(key); m != nil {
			return m.Clone()
		}
	}
	return Map{}
}

// deriveMetrics fills derived metrics the producer did not send and puts
// efficiency on the 0-1 scale.
func deriveMetrics(rec *Record) {
	dm := rec.DerivedMetrics
	if eff, ok := dm.Get("efficiency").FloatOK(); ok {
		dm["efficiency"] = Float(NormalizeRatio(eff))
	} else if temp, ok := rec.Temperature(); ok {
		dm["efficiency"] = Float(round(math.Max(0, 1-math.Abs(temp-35)/35), 3))
	}
	if !dm.Has("performanceScore") {
		if tph, ok := rec.Production.Get("throughput_per_hour").FloatOK(); ok {
			dm["performanceScore"] = Float(math.Min(1, tph/100))
		}
	}
	if !dm.Has("qualityIndex") {
		if score, ok := rec.Quality.Get("overall_score").FloatOK(); ok {
			dm["qualityIndex"] = Float(score)
		}
	}
}

// NormalizeRatio maps a percentage (0-100) onto the canonical 0-1 scale.
// Values already at or below 1 are returned unchanged.
func NormalizeRatio(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// ParseTimestamp accepts RFC 3339 strings, zone-less ISO-8601 strings (read as
// UTC) and epoch seconds or milliseconds.
func ParseTimestamp(v Value) (time.Time, bool) {
	switch v.Kind() {
	case KindInt, KindFloat:
		return fromEpoch(v.AsFloat(0))
	case KindString:
		s := strings.TrimSpace(v.AsString(""))
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC(), true
		}
		for _, layout := range localLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts, true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
	}
	return time.Time{}, false
}

func fromEpoch(value float64) (time.Time, bool) {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return time.Time{}, false
	}
	if value > 1_000_000_000_000 {
		return time.UnixMilli(int64(value)).UTC(), true
	}
	sec, frac := math.Modf(value)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
