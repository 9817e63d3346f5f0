package apihttp

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	stationapp "factory-telemetry/internal/station/application"
	station "factory-telemetry/internal/station/domain"
	vehicleapp "factory-telemetry/internal/vehicles/application"
)

const (
	defaultLowEfficiency   = 0.80
	defaultHighTemperature = 80.0
)

// StationHandler serves station snapshot queries.
type StationHandler struct {
	projector *stationapp.Projector
	tracker   *vehicleapp.Tracker
}

// NewStationHandler constructs a StationHandler. tracker may be nil.
func NewStationHandler(projector *stationapp.Projector, tracker *vehicleapp.Tracker) (*StationHandler, error) {
	if projector == nil {
		return nil, errors.New("station handler: nil projector")
	}
	return &StationHandler{projector: projector, tracker: tracker}, nil
}

// Register mounts the station routes.
func (h *StationHandler) Register(r *mux.Router) {
	r.HandleFunc("/stations", h.list).Methods(http.MethodGet)
	r.HandleFunc("/stations/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/stations/running", h.running).Methods(http.MethodGet)
	r.HandleFunc("/stations/low-efficiency", h.lowEfficiency).Methods(http.MethodGet)
	r.HandleFunc("/stations/high-temperature", h.highTemperature).Methods(http.MethodGet)
	r.HandleFunc("/stations/alerts", h.alerts).Methods(http.MethodGet)
	r.HandleFunc("/stations/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/stations/{id}", h.get).Methods(http.MethodGet)
	r.HandleFunc("/stations/{id}/stats", h.stats).Methods(http.MethodGet)
	r.HandleFunc("/stations/{id}/vehicles", h.vehicles).Methods(http.MethodGet)
}

func (h *StationHandler) status(w http.ResponseWriter, r *http.Request) {
	list, err := h.projector.List(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// list handles GET /stations?status=&process_type=.
func (h *StationHandler) list(w http.ResponseWriter, r *http.Request) {
	var (
		list []*station.Snapshot
		err  error
	)
	query := r.URL.Query()
	switch {
	case query.Get("status") != "":
		list, err = h.projector.ByStatus(r.Context(), query.Get("status"))
	case query.Get("process_type") != "":
		list, err = h.projector.ByProcessType(r.Context(), query.Get("process_type"))
	default:
		list, err = h.projector.List(r.Context())
	}
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StationHandler) running(w http.ResponseWriter, r *http.Request) {
	list, err := h.projector.ByStatus(r.Context(), station.StatusRunning)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StationHandler) lowEfficiency(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseFloatQuery(r, "threshold", defaultLowEfficiency)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.projector.LowEfficiency(r.Context(), threshold)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StationHandler) highTemperature(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseFloatQuery(r, "threshold", defaultHighTemperature)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	list, err := h.projector.HighTemperature(r.Context(), threshold)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StationHandler) alerts(w http.ResponseWriter, r *http.Request) {
	list, err := h.projector.WithAlerts(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *StationHandler) health(w http.ResponseWriter, r *http.Request) {
	health, err := h.projector.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (h *StationHandler) get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.projector.Get(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, station.ErrStationNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *StationHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.projector.StationStatistics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *StationHandler) vehicles(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.tracker.VehiclesAtStation(mux.Vars(r)["id"]))
}
