package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler handles a published event.
type Handler func(ctx context.Context, event any) error

var (
	ErrNilEvent         = errors.New("eventbus: nil event")
	ErrInvalidEventType = errors.New("eventbus: invalid event type")
)

// Bus delivers events synchronously to the handlers of their type. Handler
// failures are logged and the first one is returned after every handler ran.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logrus.FieldLogger
}

// New constructs an empty bus.
func New(logger logrus.FieldLogger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{handlers: make(map[string][]Handler), logger: logger}
}

// Publish dispatches event to every handler of its type.
func (b *Bus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := TypeOf(event)
	if eventType == "" {
		return ErrInvalidEventType
	}

	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[eventType]...)
	b.mu.RUnlock()

	var firstErr error
	for _, handler := range handlers {
		if err := safeCall(ctx, handler, event); err != nil {
			b.logger.WithError(err).WithField("event_type", eventType).Warn("event handler failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Subscribe registers handler for eventType.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.mu.Unlock()
}

// SubscribeTo registers a typed handler for events of type T.
func SubscribeTo[T any](b *Bus, handler func(context.Context, T) error) {
	b.Subscribe(TypeOfT[T](), func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case T:
			return handler(ctx, e)
		case *T:
			return handler(ctx, *e)
		}
		return fmt.Errorf("eventbus: unexpected %T", event)
	})
}

func safeCall(ctx context.Context, handler Handler, event any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// TypeOf returns the fully-qualified type name of an event.
func TypeOf(event any) string {
	if event == nil {
		return ""
	}
	t := reflect.TypeOf(event)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.String()
}

// TypeOfT returns the fully-qualified type name of T.
func TypeOfT[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}
