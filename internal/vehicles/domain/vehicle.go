package vehicles

import (
	"errors"
	"math"
	"time"

	telemetry "factory-telemetry/internal/telemetry/domain"
)

// Vehicle statuses reported by the line controller.
const (
	StatusWaiting   = "waiting"
	StatusMoving    = "moving"
	StatusInProcess = "in_process"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// MinutesPerStation is the default per-station ETA estimate.
const MinutesPerStation = 5

var ErrVehicleNotFound = errors.New("vehicles: not found")

// Vehicle is the last reported record of one vehicle. Fields holds the
// producer's payload verbatim plus last_updated.
type Vehicle struct {
	ID          string
	Fields      telemetry.Map
	LastUpdated time.Time
}

// NewVehicle builds a vehicle from a fleet snapshot entry. It returns false
// when the entry carries no vehicle_id.
func NewVehicle(entry telemetry.Map, now time.Time) (Vehicle, bool) {
	id := entry.String("vehicle_id", "")
	if id == "" {
		return Vehicle{}, false
	}
	fields := entry.Clone()
	fields["last_updated"] = telemetry.String(now.UTC().Format(time.RFC3339Nano))
	return Vehicle{ID: id, Fields: fields, LastUpdated: now.UTC()}, true
}

func (v Vehicle) Status() string {
	return v.Fields.String("status", "")
}

// StationID is the station of the vehicle's current position.
func (v Vehicle) StationID() string {
	return v.Fields.Map("position").String("station_id", "")
}

// Progress returns the station index and total station count when both are present.
func (v Vehicle) Progress() (index, total int64, ok bool) {
	idx := v.Fields.Get("current_station_index")
	tot := v.Fields.Get("total_stations")
	if !idx.IsNumber() || !tot.IsNumber() {
		return 0, 0, false
	}
	return idx.AsInt(0), tot.AsInt(0), true
}

// Details returns the vehicle fields augmented with overall progress and
// an estimated completion time.
func (v Vehicle) Details(minutesPerStation int) telemetry.Map {
	details := v.Fields.Clone()
	index, total, ok := v.Progress()
	if !ok {
		return details
	}
	if total > 0 {
		details["overall_progress"] = telemetry.Float(round1(float64(index) / float64(total) * 100))
	}
	details["estimated_completion_minutes"] = telemetry.Int((total - index) * int64(minutesPerStation))
	return details
}

// IsActive reports whether the vehicle is still on the line.
func (v Vehicle) IsActive() bool {
	switch v.Status() {
	case StatusInProcess, StatusWaiting, StatusMoving:
		return true
	}
	return false
}

// FleetUpdated is published after a fleet snapshot is applied.
type FleetUpdated struct {
	TotalVehicles  int64     `json:"totalVehicles"`
	ActiveVehicles int64     `json:"activeVehicles"`
	Applied        int       `json:"applied"`
	OccurredAt     time.Time `json:"occurredAt"`
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
