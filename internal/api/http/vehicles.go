package apihttp

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	vehicleapp "factory-telemetry/internal/vehicles/application"
	vehicles "factory-telemetry/internal/vehicles/domain"
)

// VehicleHandler serves fleet reads and maintenance.
type VehicleHandler struct {
	tracker *vehicleapp.Tracker
}

// NewVehicleHandler constructs a VehicleHandler.
func NewVehicleHandler(tracker *vehicleapp.Tracker) (*VehicleHandler, error) {
	if tracker == nil {
		return nil, errors.New("vehicle handler: nil tracker")
	}
	return &VehicleHandler{tracker: tracker}, nil
}

// Register mounts the vehicle routes.
func (h *VehicleHandler) Register(r *mux.Router) {
	r.HandleFunc("/vehicles", h.fleet).Methods(http.MethodGet)
	r.HandleFunc("/vehicles", h.clear).Methods(http.MethodDelete)
	r.HandleFunc("/vehicles/{id}", h.vehicle).Methods(http.MethodGet)
	r.HandleFunc("/vehicles/{id}", h.remove).Methods(http.MethodDelete)
	r.HandleFunc("/production-stats", h.productionStats).Methods(http.MethodGet)
}

func (h *VehicleHandler) fleet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.CurrentFleet())
}

func (h *VehicleHandler) vehicle(w http.ResponseWriter, r *http.Request) {
	details, ok := h.tracker.VehicleDetails(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, vehicles.ErrVehicleNotFound)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *VehicleHandler) clear(w http.ResponseWriter, _ *http.Request) {
	h.tracker.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (h *VehicleHandler) remove(w http.ResponseWriter, r *http.Request) {
	if !h.tracker.Remove(mux.Vars(r)["id"]) {
		writeError(w, http.StatusNotFound, vehicles.ErrVehicleNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *VehicleHandler) productionStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.ProductionStatistics())
}
