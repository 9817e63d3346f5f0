package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"factory-telemetry/internal/eventbus"
	stationevents "factory-telemetry/internal/station/application/events"
	telemetryevents "factory-telemetry/internal/telemetry/application/events"
	vehicles "factory-telemetry/internal/vehicles/domain"
)

// Message types pushed to stream clients.
const (
	TypeStationUpdated    = "station_updated"
	TypeFleetUpdated      = "fleet_updated"
	TypeTelemetryReceived = "telemetry_received"
)

const clientBuffer = 32

// Message is the envelope written to every stream client.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Broker fans out live updates to connected clients. Slow clients miss messages.
type Broker struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	now     func() time.Time
}

// NewBroker constructs a broker.
func NewBroker() *Broker {
	return &Broker{
		clients: make(map[chan []byte]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Attach subscribes the broker to domain events on bus.
func (b *Broker) Attach(bus *eventbus.Bus) {
	if b == nil || bus == nil {
		return
	}
	eventbus.SubscribeTo(bus, func(_ context.Context, evt stationevents.StationUpdated) error {
		return b.Broadcast(TypeStationUpdated, evt)
	})
	eventbus.SubscribeTo(bus, func(_ context.Context, evt vehicles.FleetUpdated) error {
		return b.Broadcast(TypeFleetUpdated, evt)
	})
	eventbus.SubscribeTo(bus, func(_ context.Context, evt telemetryevents.TelemetryReceived) error {
		return b.Broadcast(TypeTelemetryReceived, evt)
	})
}

// Subscribe registers a new client channel.
func (b *Broker) Subscribe() chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.clients[ch]
	delete(b.clients, ch)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast wraps data in a Message and sends it to every client.
func (b *Broker) Broadcast(msgType string, data any) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: b.now()})
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}
