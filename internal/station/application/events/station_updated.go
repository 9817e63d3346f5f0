package events

import (
	"time"

	station "factory-telemetry/internal/station/domain"
)

// StationUpdated is emitted after a station snapshot is persisted.
type StationUpdated struct {
	Snapshot   *station.Snapshot `json:"snapshot"`
	Source     string            `json:"source"`
	OccurredAt time.Time         `json:"occurredAt"`
}
