package telemetry

import (
	"context"
	"time"
)

// Sub-map names as they appear on canonical records.
const (
	SectionSensors        = "sensors"
	SectionProduction     = "production"
	SectionQuality        = "quality"
	SectionAlerts         = "alerts"
	SectionRobotData      = "robotData"
	SectionConveyorData   = "conveyorData"
	SectionQualityData    = "qualityData"
	SectionInventoryData  = "inventoryData"
	SectionDerivedMetrics = "derivedMetrics"
)

// Record is a canonical telemetry event. Records are immutable once built by Normalize.
type Record struct {
	StationID   string
	Timestamp   time.Time
	ProcessType string
	Location    string
	Topic       string
	ReceivedAt  time.Time
	// TimestampFallback is set when the payload timestamp was missing or unparsable.
	TimestampFallback bool
	RawTimestamp      string

	Sensors        Map
	Production     Map
	Quality        Map
	Alerts         Map
	RobotData      Map
	ConveyorData   Map
	QualityData    Map
	InventoryData  Map
	DerivedMetrics Map
}

// Section is a named sub-map of a record.
type Section struct {
	Name   string
	Values Map
}

// Sections returns the nine sub-maps in a fixed order.
func (r Record) Sections() []Section {
	return []Section{
		{Name: SectionSensors, Values: r.Sensors},
		{Name: SectionProduction, Values: r.Production},
		{Name: SectionQuality, Values: r.Quality},
		{Name: SectionAlerts, Values: r.Alerts},
		{Name: SectionRobotData, Values: r.RobotData},
		{Name: SectionConveyorData, Values: r.ConveyorData},
		{Name: SectionQualityData, Values: r.QualityData},
		{Name: SectionInventoryData, Values: r.InventoryData},
		{Name: SectionDerivedMetrics, Values: r.DerivedMetrics},
	}
}

// Temperature returns sensors.temperature when numeric.
func (r Record) Temperature() (float64, bool) {
	return r.Sensors.Get("temperature").FloatOK()
}

// Status returns production.status when present.
func (r Record) Status() (string, bool) {
	v := r.Production.Get("status")
	if v.IsNull() {
		return "", false
	}
	s := v.AsString("")
	return s, s != ""
}

// Efficiency returns derivedMetrics.efficiency on the 0-1 scale.
func (r Record) Efficiency() (float64, bool) {
	return r.DerivedMetrics.Get("efficiency").FloatOK()
}

// AlertCount counts alerts entries holding boolean true.
func (r Record) AlertCount() int {
	count := 0
	for _, v := range r.Alerts {
		if v.IsTrue() {
			count++
		}
	}
	return count
}

// MergedMetrics is the shallow union of robot, conveyor, quality and
// inventory data, later sections winning on key collision.
func (r Record) MergedMetrics() Map {
	out := make(Map, len(r.RobotData)+len(r.ConveyorData)+len(r.QualityData)+len(r.InventoryData))
	out.Merge(r.RobotData)
	out.Merge(r.ConveyorData)
	out.Merge(r.QualityData)
	out.Merge(r.InventoryData)
	return out
}

// Payload renders the record back into its canonical JSON shape.
func (r Record) Payload() Map {
	out := Map{
		"stationId":   String(r.StationID),
		"timestamp":   String(r.Timestamp.UTC().Format(time.RFC3339Nano)),
		"processType": String(r.ProcessType),
		"location":    String(r.Location),
	}
	for _, section := range r.Sections() {
		if len(section.Values) > 0 {
			out[section.Name] = Object(section.Values)
		}
	}
	return out
}

// RecordRepository stores raw canonical records for dashboard reads.
type RecordRepository interface {
	Append(ctx context.Context, record Record) error
	LatestPerStation(ctx context.Context) ([]Record, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Count(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

// PointWriter ships records to the time-series store. Implementations never
// return errors; store outages are handled internally.
type PointWriter interface {
	WriteRecord(ctx context.Context, record Record) bool
}
