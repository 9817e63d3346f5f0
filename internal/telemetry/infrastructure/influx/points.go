package influx

import (
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// HeartbeatMeasurement carries records that have no scalar section fields.
const HeartbeatMeasurement = "telemetry"

var measurementNames = map[string]string{
	telemetry.SectionSensors:        "sensors",
	telemetry.SectionProduction:     "production",
	telemetry.SectionQuality:        "quality",
	telemetry.SectionAlerts:         "alerts",
	telemetry.SectionRobotData:      "robot_data",
	telemetry.SectionConveyorData:   "conveyor_data",
	telemetry.SectionQualityData:    "quality_data",
	telemetry.SectionInventoryData:  "inventory_data",
	telemetry.SectionDerivedMetrics: "derived_metrics",
}

// MeasurementName maps a record section to its measurement.
func MeasurementName(section string) string {
	if name, ok := measurementNames[section]; ok {
		return name
	}
	return section
}

// RecordTags returns the tag set shared by all points of a record.
func RecordTags(rec telemetry.Record) map[string]string {
	return map[string]string{
		"station_id":   rec.StationID,
		"process_type": rec.ProcessType,
		"location":     rec.Location,
	}
}

// RecordPoints encodes a record as one line per non-empty section.
func RecordPoints(rec telemetry.Record) []string {
	tags := RecordTags(rec)
	lines := make([]string, 0, 4)
	for _, section := range rec.Sections() {
		fields := make(map[string]any, len(section.Values))
		flatten("", section.Values, fields)
		if len(fields) == 0 {
			continue
		}
		lines = append(lines, EncodePoint(MeasurementName(section.Name), tags, fields, rec.Timestamp))
	}
	if len(lines) == 0 {
		lines = append(lines, EncodePoint(HeartbeatMeasurement, tags, nil, rec.Timestamp))
	}
	return lines
}

func flatten(prefix string, values telemetry.Map, out map[string]any) {
	for key, value := range values {
		name := key
		if prefix != "" {
			name = prefix + "_" + key
		}
		switch value.Kind() {
		case telemetry.KindMap:
			flatten(name, value.AsMap(), out)
		case telemetry.KindNull, telemetry.KindList:
		default:
			if _, ok := encodeValue(value); ok {
				out[name] = value
			}
		}
	}
}
