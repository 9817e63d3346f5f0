package apihttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"factory-telemetry/internal/ingest"
)

const maxIngestBody = 4 << 20

// Dispatcher applies a raw payload of one ingest kind.
type Dispatcher interface {
	Handle(ctx context.Context, kind, topic string, body []byte) (ingest.Ack, error)
}

var ingestRoutes = map[string]string{
	"/telemetry":        ingest.KindTelemetry,
	"/kpi":              ingest.KindKPI,
	"/vehicles":         ingest.KindVehicles,
	"/station-status":   ingest.KindStationStatus,
	"/production-stats": ingest.KindProductionStats,
}

// IngestHandler serves the POST ingest endpoints.
type IngestHandler struct {
	dispatcher Dispatcher
}

// NewIngestHandler constructs an IngestHandler.
func NewIngestHandler(dispatcher Dispatcher) (*IngestHandler, error) {
	if dispatcher == nil {
		return nil, errors.New("ingest handler: nil dispatcher")
	}
	return &IngestHandler{dispatcher: dispatcher}, nil
}

// Register mounts the ingest routes.
func (h *IngestHandler) Register(r *mux.Router) {
	for path, kind := range ingestRoutes {
		r.HandleFunc(path, h.handle(kind)).Methods(http.MethodPost)
	}
}

func (h *IngestHandler) handle(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ingest.Ack{
				Status:    "error",
				Message:   "read body: " + err.Error(),
				Timestamp: time.Now().UTC(),
			})
			return
		}
		ack, err := h.dispatcher.Handle(r.Context(), kind, "", body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, ack)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}
