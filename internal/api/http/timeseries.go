package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"factory-telemetry/internal/telemetry/infrastructure/influx"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
)

// TimeSeries is the read side of the time-series store.
type TimeSeries interface {
	RecentSensorData(ctx context.Context, stationID string, limit int) []influx.Row
	SensorDataByRange(ctx context.Context, stationID string, from, to time.Time) []influx.Row
	CheckHealth(ctx context.Context) bool
	Database() string
}

// TimeSeriesHandler serves historical sensor queries.
type TimeSeriesHandler struct {
	store TimeSeries
	now   func() time.Time
}

// NewTimeSeriesHandler constructs a TimeSeriesHandler.
func NewTimeSeriesHandler(store TimeSeries) (*TimeSeriesHandler, error) {
	if store == nil {
		return nil, errors.New("timeseries handler: nil store")
	}
	return &TimeSeriesHandler{store: store, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Register mounts the time-series routes.
func (h *TimeSeriesHandler) Register(r *mux.Router) {
	r.HandleFunc("/history/{stationId}", h.history).Methods(http.MethodGet)
	r.HandleFunc("/timeseries/health", h.health).Methods(http.MethodGet)
}

// history handles GET /history/{stationId}?from=&to= or ?limit=.
func (h *TimeSeriesHandler) history(w http.ResponseWriter, r *http.Request) {
	stationID := mux.Vars(r)["stationId"]
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var rows []influx.Row
	if !from.IsZero() {
		if to.IsZero() {
			to = h.now()
		}
		if !to.After(from) {
			writeError(w, http.StatusBadRequest, errors.New("to must be after from"))
			return
		}
		rows = h.store.SensorDataByRange(r.Context(), stationID, from, to)
	} else {
		limit, err := parseLimitQuery(r, defaultHistoryLimit, maxHistoryLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rows = h.store.RecentSensorData(r.Context(), stationID, limit)
	}
	if rows == nil {
		rows = []influx.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stationId": stationID,
		"count":     len(rows),
		"data":      rows,
	})
}

type timeSeriesHealth struct {
	Healthy   bool      `json:"healthy"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *TimeSeriesHandler) health(w http.ResponseWriter, r *http.Request) {
	body := timeSeriesHealth{
		Healthy:   h.store.CheckHealth(r.Context()),
		Database:  h.store.Database(),
		Timestamp: h.now(),
	}
	status := http.StatusOK
	if !body.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
