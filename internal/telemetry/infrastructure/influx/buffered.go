package influx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"factory-telemetry/internal/observability/metrics"
	telemetry "factory-telemetry/internal/telemetry/domain"
)

// BatchSender ships a batch of encoded lines.
type BatchSender interface {
	WriteBatch(ctx context.Context, lines []string) bool
}

// BufferedWriter accumulates lines and flushes them when the batch is full
// or the flush interval elapses. Enqueue never blocks on I/O.
type BufferedWriter struct {
	sender    BatchSender
	logger    logrus.FieldLogger
	batchSize int
	capacity  int
	interval  time.Duration

	mu     sync.Mutex
	buf    []string
	closed bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// BufferOption configures a BufferedWriter.
type BufferOption func(*BufferedWriter)

// WithBatchSize sets the line count that triggers a flush.
func WithBatchSize(n int) BufferOption {
	return func(w *BufferedWriter) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(d time.Duration) BufferOption {
	return func(w *BufferedWriter) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithCapacity bounds the number of buffered lines. Lines beyond it are dropped.
func WithCapacity(n int) BufferOption {
	return func(w *BufferedWriter) {
		if n > 0 {
			w.capacity = n
		}
	}
}

// WithBufferLogger sets the logger.
func WithBufferLogger(logger logrus.FieldLogger) BufferOption {
	return func(w *BufferedWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewBufferedWriter starts a writer that flushes to sender.
func NewBufferedWriter(sender BatchSender, opts ...BufferOption) (*BufferedWriter, error) {
	if sender == nil {
		return nil, errors.New("influx: nil batch sender")
	}
	w := &BufferedWriter{
		sender:    sender,
		logger:    logrus.StandardLogger(),
		batchSize: 1000,
		interval:  5 * time.Second,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.capacity < w.batchSize {
		w.capacity = w.batchSize * 10
	}
	w.buf = make([]string, 0, w.batchSize)
	go w.run()
	return w, nil
}

// Enqueue buffers lines and returns how many were accepted.
func (w *BufferedWriter) Enqueue(lines ...string) int {
	if len(lines) == 0 {
		return 0
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		metrics.AddTSDBDropped(len(lines))
		return 0
	}
	room := w.capacity - len(w.buf)
	accepted := len(lines)
	if accepted > room {
		accepted = room
	}
	if accepted < 0 {
		accepted = 0
	}
	w.buf = append(w.buf, lines[:accepted]...)
	full := len(w.buf) >= w.batchSize
	w.mu.Unlock()

	if dropped := len(lines) - accepted; dropped > 0 {
		metrics.AddTSDBDropped(dropped)
		w.logger.WithField("dropped", dropped).Warn("time-series buffer full")
	}
	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return accepted
}

// WriteRecord encodes a record and buffers its points.
func (w *BufferedWriter) WriteRecord(_ context.Context, rec telemetry.Record) bool {
	lines := RecordPoints(rec)
	return w.Enqueue(lines...) == len(lines)
}

// Pending returns the number of buffered lines.
func (w *BufferedWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Flush sends everything buffered so far.
func (w *BufferedWriter) Flush(ctx context.Context) bool {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return true
	}
	batch := w.buf
	w.buf = make([]string, 0, w.batchSize)
	w.mu.Unlock()

	ok := true
	for start := 0; start < len(batch); start += w.batchSize {
		end := start + w.batchSize
		if end > len(batch) {
			end = len(batch)
		}
		if !w.sender.WriteBatch(ctx, batch[start:end]) {
			ok = false
		}
	}
	return ok
}

// Close stops the flush loop and drains the buffer.
func (w *BufferedWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stop)
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if !w.Flush(ctx) {
		return errors.New("influx: final flush failed")
	}
	return nil
}

func (w *BufferedWriter) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.Flush(context.Background())
		case <-w.kick:
			w.Flush(context.Background())
		}
	}
}
