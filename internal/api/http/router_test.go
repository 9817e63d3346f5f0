package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factory-telemetry/internal/auth"
	"factory-telemetry/internal/ingest"
	kpiapp "factory-telemetry/internal/kpi/application"
	kpimemory "factory-telemetry/internal/kpi/infrastructure/memory"
	stationapp "factory-telemetry/internal/station/application"
	stationmemory "factory-telemetry/internal/station/infrastructure/memory"
	telemetryapp "factory-telemetry/internal/telemetry/application"
	telemetrymemory "factory-telemetry/internal/telemetry/infrastructure/memory"
	"factory-telemetry/internal/telemetry/infrastructure/influx"
	vehicleapp "factory-telemetry/internal/vehicles/application"
)

type fakeTimeSeries struct {
	healthy bool
	limit   int
	from    time.Time
}

func (f *fakeTimeSeries) RecentSensorData(_ context.Context, stationID string, limit int) []influx.Row {
	f.limit = limit
	return []influx.Row{{"station_id": stationID, "temperature": 40.5}}
}

func (f *fakeTimeSeries) SensorDataByRange(_ context.Context, _ string, from, _ time.Time) []influx.Row {
	f.from = from
	return nil
}

func (f *fakeTimeSeries) CheckHealth(context.Context) bool { return f.healthy }
func (f *fakeTimeSeries) Database() string                 { return "factory_data" }

type testServer struct {
	router *mux.Router
	tsdb   *fakeTimeSeries
}

func newTestServer(t *testing.T, extra ...mux.MiddlewareFunc) testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()

	projector, err := stationapp.NewProjector(stationmemory.NewRepository(), stationapp.WithLogger(logger))
	require.NoError(t, err)
	raw := telemetrymemory.NewRepository()
	ingestSvc, err := telemetryapp.NewIngestService(raw, projector, telemetryapp.WithIngestLogger(logger))
	require.NoError(t, err)
	dashboard, err := telemetryapp.NewDashboardService(raw, projector, telemetryapp.WithDashboardLogger(logger))
	require.NoError(t, err)
	kpiSvc, err := kpiapp.NewService(kpimemory.NewRepository(), kpiapp.WithLogger(logger))
	require.NoError(t, err)
	tracker := vehicleapp.NewTracker(vehicleapp.WithLogger(logger))

	dispatcher := ingest.NewDispatcher(
		ingest.WithTelemetry(ingestSvc),
		ingest.WithKPI(kpiSvc),
		ingest.WithStatus(projector),
		ingest.WithFleet(tracker),
		ingest.WithLogger(logger),
	)
	tsdb := &fakeTimeSeries{}

	ingestHandler, err := NewIngestHandler(dispatcher)
	require.NoError(t, err)
	stationHandler, err := NewStationHandler(projector, tracker)
	require.NoError(t, err)
	dashboardHandler, err := NewDashboardHandler(dashboard)
	require.NoError(t, err)
	kpiHandler, err := NewKPIHandler(kpiSvc)
	require.NoError(t, err)
	vehicleHandler, err := NewVehicleHandler(tracker)
	require.NoError(t, err)
	tsHandler, err := NewTimeSeriesHandler(tsdb)
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Handlers:   []Registrar{ingestHandler, stationHandler, dashboardHandler, kpiHandler, vehicleHandler, tsHandler},
		Middleware: extra,
		HealthChecks: map[string]HealthCheck{
			"tsdb": func(ctx context.Context) error {
				if !tsdb.CheckHealth(ctx) {
					return errors.New("unreachable")
				}
				return nil
			},
		},
		Logger: logger,
	})
	return testServer{router: router, tsdb: tsdb}
}

func (s testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestIngestTelemetryThenReadStations(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/telemetry",
		`{"stationId":"WELD_01","production":{"status":"RUNNING","count":4},"sensors":{"temperature":91.5}}`)
	require.Equal(t, http.StatusOK, resp.Code)
	ack := decode(t, resp)
	assert.Equal(t, "success", ack["status"])
	assert.NotEmpty(t, ack["timestamp"])
	assert.NotEmpty(t, resp.Header().Get("X-Request-ID"))

	resp = s.do(t, http.MethodGet, "/api/v1/stations/status", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "WELD_01", list[0]["stationId"])

	resp = s.do(t, http.MethodGet, "/api/v1/stations?status=RUNNING", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/stations/high-temperature", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/stations/high-temperature?threshold=95", "")
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Empty(t, list)

	resp = s.do(t, http.MethodGet, "/api/v1/stations/WELD_01/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, decode(t, resp)["isRunning"])

	resp = s.do(t, http.MethodGet, "/api/v1/dashboard/latest", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, decode(t, resp)["noData"])

	resp = s.do(t, http.MethodGet, "/api/v1/data/recent?limit=5", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestIngestFailuresReturn500(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/v1/telemetry", `{broken`)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	ack := decode(t, resp)
	assert.Equal(t, "error", ack["status"])
	assert.NotEmpty(t, ack["message"])

	resp = s.do(t, http.MethodPost, "/api/v1/kpi", `{"oee":80}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/station-status", `{"status":"IDLE"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestBadQueryParameters(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/v1/stations/low-efficiency?threshold=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	resp = s.do(t, http.MethodGet, "/api/v1/data/recent?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestVehicleRoutes(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/v1/vehicles/V9", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	body := decode(t, resp)
	assert.Equal(t, "Not Found", body["error"])
	assert.NotEmpty(t, body["message"])

	resp = s.do(t, http.MethodPost, "/api/v1/vehicles",
		`{"total_vehicles":1,"vehicles":[{"vehicle_id":"V9","status":"in_progress","position":{"station_id":"A01"}}]}`)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/vehicles/V9", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "V9", decode(t, resp)["vehicle_id"])

	resp = s.do(t, http.MethodGet, "/api/v1/stations/A01/vehicles", "")
	var atStation []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &atStation))
	assert.Len(t, atStation, 1)

	resp = s.do(t, http.MethodGet, "/api/v1/vehicles", "")
	assert.EqualValues(t, 1, decode(t, resp)["total_vehicles"])

	resp = s.do(t, http.MethodDelete, "/api/v1/vehicles", "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = s.do(t, http.MethodGet, "/api/v1/vehicles/V9", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/production-stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 0, decode(t, resp)["real_time_total_vehicles"])
}

func TestKPIRoutes(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/v1/kpi/factory/summary", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, decode(t, resp)["noData"])

	resp = s.do(t, http.MethodGet, "/api/v1/kpi/stations/ST1", "")
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(t, http.MethodPost, "/api/v1/kpi", `{"station_id":"ST1","oee":{"value":72.5},"fty":91}`)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/kpi/stations/ST1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.InDelta(t, 72.5, decode(t, resp)["oee"], 1e-9)

	resp = s.do(t, http.MethodGet, "/api/v1/kpi/latest", "")
	require.Equal(t, http.StatusOK, resp.Code)
	summary := decode(t, resp)["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["total_stations"])

	resp = s.do(t, http.MethodGet, "/api/v1/exports/kpi.xlsx", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, contentTypeXLSX, resp.Header().Get("Content-Type"))
	assert.NotZero(t, resp.Body.Len())

	resp = s.do(t, http.MethodGet, "/api/v1/exports/kpi.pdf", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")))
}

func TestTimeSeriesRoutes(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/v1/history/ST1?limit=20", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 20, s.tsdb.limit)
	assert.EqualValues(t, 1, decode(t, resp)["count"])

	resp = s.do(t, http.MethodGet, "/api/v1/history/ST1?from=2024-01-01T00:00:00Z&to=2024-01-02T00:00:00Z", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s.tsdb.from)
	assert.EqualValues(t, 0, decode(t, resp)["count"])

	resp = s.do(t, http.MethodGet, "/api/v1/history/ST1?from=2024-01-02T00:00:00Z&to=2024-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodGet, "/api/v1/timeseries/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, false, decode(t, resp)["healthy"])

	resp = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	s.tsdb.healthy = true
	resp = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decode(t, resp)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAuthMiddlewareOnRouter(t *testing.T) {
	secret := []byte("router-secret")
	mw := auth.NewMiddleware(secret, auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	s := newTestServer(t, mw.Wrap)

	resp := s.do(t, http.MethodGet, "/api/v1/stations/status", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	claims := auth.Claims{
		Role: string(auth.RoleViewer),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dash",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stations/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
