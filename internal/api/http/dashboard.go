package apihttp

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	telemetryapp "factory-telemetry/internal/telemetry/application"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 500
)

// DashboardHandler serves dashboard and system statistics reads.
type DashboardHandler struct {
	service *telemetryapp.DashboardService
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(service *telemetryapp.DashboardService) (*DashboardHandler, error) {
	if service == nil {
		return nil, errors.New("dashboard handler: nil service")
	}
	return &DashboardHandler{service: service}, nil
}

// Register mounts the dashboard routes.
func (h *DashboardHandler) Register(r *mux.Router) {
	r.HandleFunc("/dashboard/latest", h.latest).Methods(http.MethodGet)
	r.HandleFunc("/system/statistics", h.statistics).Methods(http.MethodGet)
	r.HandleFunc("/data/recent", h.recent).Methods(http.MethodGet)
}

func (h *DashboardHandler) latest(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Latest(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *DashboardHandler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.SystemStatistics(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *DashboardHandler) recent(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitQuery(r, defaultRecentLimit, maxRecentLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := h.service.Recent(r.Context(), limit)
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}
