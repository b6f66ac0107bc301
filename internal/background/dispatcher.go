package background

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/vocalid/internal/models"
)

// AuditSink receives audit entries outside the request path
type AuditSink interface {
	Emit(ctx context.Context, entry *models.AuditLogEntry) error
}

// AuditSinkFunc adapts a function to AuditSink
type AuditSinkFunc func(ctx context.Context, entry *models.AuditLogEntry) error

// Emit implements AuditSink
func (f AuditSinkFunc) Emit(ctx context.Context, entry *models.AuditLogEntry) error {
	return f(ctx, entry)
}

// Dispatcher forwards audit entries to a sink on a single worker goroutine.
// Enqueue never blocks: entries are dropped when the buffer is full.
type Dispatcher struct {
	name      string
	sink      AuditSink
	logger    *slog.Logger
	timeout   time.Duration
	ch        chan *models.AuditLogEntry
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts a dispatcher for sink with the given buffer size
func NewDispatcher(name string, sink AuditSink, bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}

	d := &Dispatcher{
		name:    name,
		sink:    sink,
		logger:  logger,
		timeout: 10 * time.Second,
		ch:      make(chan *models.AuditLogEntry, bufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case entry := <-d.ch:
			d.deliver(entry)
		case <-d.done:
			// drain whatever was queued before Close
			for {
				select {
				case entry := <-d.ch:
					d.deliver(entry)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(entry *models.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Emit(ctx, entry); err != nil {
		d.logger.Error("audit sink delivery failed",
			slog.String("sink", d.name),
			slog.String("audit_id", entry.ID),
			slog.Any("error", err))
	}
}

// Enqueue hands an entry to the worker. It is a no-op after Close.
func (d *Dispatcher) Enqueue(entry *models.AuditLogEntry) {
	if d == nil || d.closed.Load() {
		return
	}

	select {
	case d.ch <- entry:
	case <-d.done:
	default:
		if d.dropped.Add(1) == 1 {
			d.logger.Warn("audit sink buffer full, dropping entries", slog.String("sink", d.name))
		}
	}
}

// Close stops accepting entries and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns how many entries were discarded because the buffer was full
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
