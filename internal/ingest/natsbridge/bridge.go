package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/ingest"
)

const (
	DefaultPrefix     = "factory"
	DefaultQueueGroup = "factory-telemetry"
	defaultMsgTimeout = 30 * time.Second
)

// Handler applies a raw payload of the given kind.
type Handler interface {
	Handle(ctx context.Context, kind, topic string, body []byte) (ingest.Ack, error)
}

// Bridge subscribes to <prefix>.<kind> subjects and forwards payloads to a Handler.
type Bridge struct {
	conn       *nats.Conn
	handler    Handler
	prefix     string
	queue      string
	msgTimeout time.Duration
	logger     logrus.FieldLogger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		if prefix = strings.Trim(prefix, ". "); prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithQueueGroup sets the queue group shared by service replicas.
func WithQueueGroup(queue string) Option {
	return func(b *Bridge) { b.queue = queue }
}

// WithMessageTimeout bounds the processing of one message.
func WithMessageTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.msgTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New builds a bridge over an existing connection.
func New(conn *nats.Conn, handler Handler, opts ...Option) (*Bridge, error) {
	if conn == nil {
		return nil, errors.New("natsbridge: nil connection")
	}
	if handler == nil {
		return nil, errors.New("natsbridge: nil handler")
	}
	b := newBridge(handler, opts...)
	b.conn = conn
	return b, nil
}

func newBridge(handler Handler, opts ...Option) *Bridge {
	b := &Bridge{
		handler:    handler,
		prefix:     DefaultPrefix,
		queue:      DefaultQueueGroup,
		msgTimeout: defaultMsgTimeout,
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials the broker with reconnect handling that logs state changes.
func Connect(url string, logger logrus.FieldLogger) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("natsbridge: empty url")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return nats.Connect(url,
		nats.Name("factory-telemetry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			entry := logger.WithError(err)
			if sub != nil {
				entry = entry.WithField("subject", sub.Subject)
			}
			entry.Error("nats async error")
		}),
	)
}

// Subject returns the subject for an ingest kind.
func Subject(prefix, kind string) string {
	return prefix + "." + kind
}

// KindFromSubject maps a subject back to its ingest kind.
func KindFromSubject(prefix, subject string) (string, bool) {
	kind, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || kind == "" {
		return "", false
	}
	for _, known := range ingest.Kinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

// Start subscribes to every ingest subject. Messages are processed under ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kind := range ingest.Kinds {
		subject := Subject(b.prefix, kind)
		var (
			sub *nats.Subscription
			err error
		)
		cb := func(msg *nats.Msg) { b.handleMsg(ctx, msg) }
		if b.queue != "" {
			sub, err = b.conn.QueueSubscribe(subject, b.queue, cb)
		} else {
			sub, err = b.conn.Subscribe(subject, cb)
		}
		if err != nil {
			b.unsubscribeLocked()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	b.logger.WithFields(logrus.Fields{"prefix": b.prefix, "queue": b.queue}).Info("nats ingest bridge started")
	return nil
}

func (b *Bridge) handleMsg(ctx context.Context, msg *nats.Msg) {
	kind, ok := KindFromSubject(b.prefix, msg.Subject)
	if !ok {
		b.logger.WithField("subject", msg.Subject).Warn("nats message on unknown subject")
		return
	}
	msgCtx, cancel := context.WithTimeout(ctx, b.msgTimeout)
	defer cancel()

	ack, _ := b.handler.Handle(msgCtx, kind, msg.Subject, msg.Data)
	if msg.Reply == "" || b.conn == nil {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := b.conn.Publish(msg.Reply, data); err != nil {
		b.logger.WithError(err).Debug("nats reply failed")
	}
}

func (b *Bridge) unsubscribeLocked() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
}

// Close drains subscriptions.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for _, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	return errors.Join(errs...)
}
