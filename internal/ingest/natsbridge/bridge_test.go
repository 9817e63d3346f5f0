package natsbridge

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factory-telemetry/internal/ingest"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
	topic string
}

func (h *recordingHandler) Handle(_ context.Context, kind, topic string, _ []byte) (ingest.Ack, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, kind)
	h.topic = topic
	return ingest.Ack{Status: "success", Message: kind, Timestamp: time.Unix(0, 0).UTC()}, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func TestKindFromSubject(t *testing.T) {
	kind, ok := KindFromSubject("factory", "factory.station_status")
	require.True(t, ok)
	assert.Equal(t, ingest.KindStationStatus, kind)

	_, ok = KindFromSubject("factory", "factory.weather")
	assert.False(t, ok)
	_, ok = KindFromSubject("factory", "plant.telemetry")
	assert.False(t, ok)
	assert.Equal(t, "plant.kpi", Subject("plant", ingest.KindKPI))
}

func TestNewRejectsNil(t *testing.T) {
	_, err := New(nil, &recordingHandler{})
	require.Error(t, err)
}

func TestHandleMsgRoutesByKind(t *testing.T) {
	h := &recordingHandler{}
	b := newBridge(h, WithPrefix("plant."))
	b.handleMsg(context.Background(), &nats.Msg{Subject: "plant.vehicles", Data: []byte(`{}`)})
	b.handleMsg(context.Background(), &nats.Msg{Subject: "plant.unknown", Data: []byte(`{}`)})

	require.Equal(t, 1, h.count())
	assert.Equal(t, ingest.KindVehicles, h.calls[0])
	assert.Equal(t, "plant.vehicles", h.topic)
}

func TestBridgeAgainstServer(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	conn, err := Connect(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	h := &recordingHandler{}
	b, err := New(conn, h, WithPrefix("test-"+time.Now().Format("150405")), WithQueueGroup(""))
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Close()

	reply, err := conn.Request(Subject(b.prefix, ingest.KindTelemetry), []byte(`{"stationId":"A"}`), 2*time.Second)
	require.NoError(t, err)
	var ack ingest.Ack
	require.NoError(t, json.Unmarshal(reply.Data, &ack))
	assert.Equal(t, "success", ack.Status)
	assert.Equal(t, 1, h.count())
}
