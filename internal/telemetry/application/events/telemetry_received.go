package events

import "time"

// TelemetryReceived is raised after a record has been stored and projected.
type TelemetryReceived struct {
	StationID   string         `json:"stationId"`
	ProcessType string         `json:"processType,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Written     bool           `json:"written"`
	Payload     map[string]any `json:"payload"`
	OccurredAt  time.Time      `json:"occurredAt"`
}
