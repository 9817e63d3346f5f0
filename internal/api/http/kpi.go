package apihttp

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	kpiapp "factory-telemetry/internal/kpi/application"
	kpi "factory-telemetry/internal/kpi/domain"
	kpiexport "factory-telemetry/internal/kpi/interfaces"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

// KPIHandler serves KPI reads and exports.
type KPIHandler struct {
	service *kpiapp.Service
}

// NewKPIHandler constructs a KPIHandler.
func NewKPIHandler(service *kpiapp.Service) (*KPIHandler, error) {
	if service == nil {
		return nil, errors.New("kpi handler: nil service")
	}
	return &KPIHandler{service: service}, nil
}

// Register mounts the KPI routes.
func (h *KPIHandler) Register(r *mux.Router) {
	r.HandleFunc("/kpi/latest", h.latest).Methods(http.MethodGet)
	r.HandleFunc("/kpi/stations/{id}", h.station).Methods(http.MethodGet)
	r.HandleFunc("/kpi/factory/summary", h.summary).Methods(http.MethodGet)
	r.HandleFunc("/exports/kpi.xlsx", h.export(kpiexport.BuildFactoryXLSX, contentTypeXLSX, "kpi.xlsx")).Methods(http.MethodGet)
	r.HandleFunc("/exports/kpi.pdf", h.export(kpiexport.BuildFactoryPDF, contentTypePDF, "kpi.pdf")).Methods(http.MethodGet)
}

func (h *KPIHandler) latest(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.Overview(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *KPIHandler) station(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.StationKPI(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, kpi.ErrKPINotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kpi.Flatten(rec))
}

func (h *KPIHandler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.FactorySummary(r.Context())
	if err != nil {
		writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type exportBuilder func(kpi.FactorySummary, kpi.Overview) ([]byte, error)

func (h *KPIHandler) export(build exportBuilder, contentType, filename string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := h.service.FactorySummary(r.Context())
		if err != nil {
			writeInternal(w, err)
			return
		}
		overview, err := h.service.Overview(r.Context())
		if err != nil {
			writeInternal(w, err)
			return
		}
		data, err := build(summary, overview)
		if err != nil {
			writeInternal(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}
}
