package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/mail"
	"github.com/charlesng35/usermanager/pkg/metrics"
)

// DefaultQueueSize bounds the number of jobs waiting for a worker.
const DefaultQueueSize = 100

// Enqueuer accepts jobs for asynchronous delivery.
type Enqueuer interface {
	Enqueue(job Job) error
}

// SendObserver is told when each transport attempt starts and ends.
type SendObserver interface {
	SendStarted(job Job)
	SendFinished(job Job, err error)
}

// DispatcherConfig controls message composition and queueing.
type DispatcherConfig struct {
	Organization string
	From         string
	FromName     string
	QueueSize    int
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSendObserver registers an observer for transport attempts.
func WithSendObserver(observer SendObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// WithDispatcherClock overrides the time source used for timestamps and footers.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher sends templated email through an AdmissionGate.
type Dispatcher struct {
	gate     *AdmissionGate
	mailer   mail.Mailer
	cfg      DispatcherConfig
	layout   layout
	observer SendObserver
	now      func() time.Time
	log      *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Job
	wg     sync.WaitGroup
}

// NewDispatcher constructs a dispatcher and starts one queue worker per gate slot.
func NewDispatcher(gate *AdmissionGate, mailer mail.Mailer, cfg DispatcherConfig, opts ...DispatcherOption) (*Dispatcher, error) {
	if gate == nil {
		return nil, errors.New("notifications: admission gate is required")
	}
	if mailer == nil {
		return nil, errors.New("notifications: mailer is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	cfg.Organization = strings.TrimSpace(cfg.Organization)
	if cfg.FromName == "" {
		cfg.FromName = cfg.Organization
	}

	d := &Dispatcher{
		gate:   gate,
		mailer: mailer,
		cfg:    cfg,
		now:    time.Now,
		log:    logger.WithModule("mail"),
		queue:  make(chan Job, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.layout = layout{organization: cfg.Organization, now: d.now}

	for i := 0; i < gate.Capacity(); i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d, nil
}

// Send delivers job synchronously. It waits for an admission slot, transmits over a
// fresh connection, and returns once the slot's cooldown has elapsed. A ctx that ends
// while waiting yields *RateLimitedError; a relay failure yields *TransportError.
func (d *Dispatcher) Send(ctx context.Context, job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := d.gate.Acquire(ctx); err != nil {
		metrics.EmailsSent.WithLabelValues("rate_limited").Inc()
		return &RateLimitedError{RetryAfter: d.gate.Cooldown(), Err: err}
	}
	defer d.gate.Release()

	msg, err := d.compose(job)
	if err != nil {
		return err
	}

	if d.observer != nil {
		d.observer.SendStarted(job)
	}
	// Once admitted the send runs to completion even if the caller goes away.
	err = d.mailer.Send(context.WithoutCancel(ctx), msg)
	if d.observer != nil {
		d.observer.SendFinished(job, err)
	}

	if err != nil {
		metrics.EmailsSent.WithLabelValues("failed").Inc()
		return &TransportError{Err: err}
	}
	metrics.EmailsSent.WithLabelValues("sent").Inc()
	return nil
}

// Enqueue hands job to the worker pool without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = d.now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- job:
		return nil
	default:
		metrics.EmailsSent.WithLabelValues("rate_limited").Inc()
		return &RateLimitedError{RetryAfter: d.gate.Cooldown(), Err: errors.New("queue full")}
	}
}

// Close stops intake and waits for queued jobs to drain or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications: close: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.queue {
		started := d.now()
		err := d.Send(context.Background(), job)
		fields := []zap.Field{
			zap.String("to", job.To),
			zap.String("kind", job.Kind),
			zap.Duration("queued_for", started.Sub(job.EnqueuedAt)),
		}
		if err != nil {
			d.log.Error("email delivery failed", append(fields, zap.Error(err))...)
			continue
		}
		d.log.Info("email delivered", fields...)
	}
}

func (d *Dispatcher) compose(job Job) (mail.Message, error) {
	htmlBody, err := d.layout.html(job.HTMLBody)
	if err != nil {
		return mail.Message{}, err
	}

	headers := map[string]string{
		"Precedence":     "bulk",
		"Auto-Submitted": "auto-generated",
	}
	if d.cfg.Organization != "" {
		headers["Organization"] = d.cfg.Organization
	}

	return mail.Message{
		From:     d.cfg.From,
		FromName: d.cfg.FromName,
		To:       []string{strings.TrimSpace(job.To)},
		Subject:  d.layout.subject(job.Subject),
		TextBody: d.layout.text(job.HTMLBody),
		HTMLBody: htmlBody,
		Headers:  headers,
	}, nil
}
