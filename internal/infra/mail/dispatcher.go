package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kgtech-org/process-manager-sub004/internal/core/domain"
	"github.com/kgtech-org/process-manager-sub004/internal/core/port"
	"github.com/kgtech-org/process-manager-sub004/internal/infra/logger"
)

// ErrQueueFull is returned when the dispatcher cannot accept more mail.
var ErrQueueFull = errors.New("mail queue full")

// ErrDispatcherClosed is returned after Close.
var ErrDispatcherClosed = errors.New("mail dispatcher closed")

const defaultSendTimeout = 30 * time.Second

type job struct {
	to   string
	kind domain.MailKind
	data map[string]string
}

// Dispatcher queues mail and delivers it from a fixed pool of workers, so request
// handlers never wait on SMTP.
type Dispatcher struct {
	next      port.Mailer
	logger    *zap.Logger
	onFailure func(kind domain.MailKind)
	timeout   time.Duration

	queue  chan job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFailureHook is called once per message that could not be delivered.
func WithFailureHook(fn func(kind domain.MailKind)) DispatcherOption {
	return func(d *Dispatcher) { d.onFailure = fn }
}

// WithSendTimeout bounds a single delivery.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// NewDispatcher starts workers delivering through next.
func NewDispatcher(next port.Mailer, workers, queueSize int, log *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	d := &Dispatcher{
		next:    next,
		logger:  log,
		timeout: defaultSendTimeout,
		queue:   make(chan job, queueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d
}

// Send enqueues the message and returns immediately. The caller's context only
// guards the enqueue; delivery runs on its own deadline.
func (d *Dispatcher) Send(ctx context.Context, to string, kind domain.MailKind, data map[string]string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- job{to: to, kind: kind, data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		d.fail(kind)
		return ErrQueueFull
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.next.Send(ctx, j.to, j.kind, j.data)
		cancel()

		if err != nil {
			d.logger.Warn("mail delivery failed",
				zap.Error(err),
				zap.String("to", logger.MaskEmail(j.to)),
				zap.String("kind", string(j.kind)),
			)
			d.fail(j.kind)
		}
	}
}

func (d *Dispatcher) fail(kind domain.MailKind) {
	if d.onFailure != nil {
		d.onFailure(kind)
	}
}

// Close stops accepting mail and waits for queued messages to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

var _ port.Mailer = (*Dispatcher)(nil)
