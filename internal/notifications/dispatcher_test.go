package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/usermanager/pkg/mail"
)

type fakeMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	delay    time.Duration
	err      error
	block    chan struct{}
}

func (m *fakeMailer) Send(ctx context.Context, msg mail.Message) error {
	if m.block != nil {
		<-m.block
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *fakeMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}

// concurrencyObserver tracks how many transport attempts overlap.
type concurrencyObserver struct {
	current  atomic.Int32
	peak     atomic.Int32
	finished atomic.Int32
	started  chan Job
}

func (o *concurrencyObserver) SendStarted(job Job) {
	now := o.current.Add(1)
	for {
		peak := o.peak.Load()
		if now <= peak || o.peak.CompareAndSwap(peak, now) {
			break
		}
	}
	if o.started != nil {
		o.started <- job
	}
}

func (o *concurrencyObserver) SendFinished(Job, error) {
	o.current.Add(-1)
	o.finished.Add(1)
}

func testJob(i int) Job {
	return Job{
		To:       fmt.Sprintf("user%d@example.com", i),
		Subject:  "Hello",
		HTMLBody: "<p>Hello <b>there</b></p>",
	}
}

func newTestDispatcher(t *testing.T, gate *AdmissionGate, mailer mail.Mailer, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(gate, mailer, DispatcherConfig{
		Organization: "ProductWebsite",
		From:         "no-reply@example.com",
		QueueSize:    4,
	}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func TestNewDispatcherRequiresCollaborators(t *testing.T) {
	_, err := NewDispatcher(nil, &fakeMailer{}, DispatcherConfig{})
	require.Error(t, err)

	_, err = NewDispatcher(NewAdmissionGate(1, 0), nil, DispatcherConfig{})
	require.Error(t, err)
}

func TestSendNeverExceedsCapacity(t *testing.T) {
	observer := &concurrencyObserver{}
	gate := NewAdmissionGate(3, 5*time.Millisecond)
	d := newTestDispatcher(t, gate, &fakeMailer{delay: 5 * time.Millisecond}, WithSendObserver(observer))

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- d.Send(context.Background(), testJob(i))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(12), observer.finished.Load())
	require.LessOrEqual(t, observer.peak.Load(), int32(3))
	require.GreaterOrEqual(t, observer.peak.Load(), int32(1))
}

func TestSendThroughputIsBoundedByCooldown(t *testing.T) {
	const cooldown = 60 * time.Millisecond
	gate := NewAdmissionGate(5, cooldown)
	d := newTestDispatcher(t, gate, &fakeMailer{})

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- d.Send(context.Background(), testJob(i))
		}(i)
	}
	wg.Wait()
	close(errs)

	elapsed := time.Since(start)
	for err := range errs {
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, elapsed, 2*cooldown)
}

func TestSendReturnsAfterCooldown(t *testing.T) {
	const cooldown = 40 * time.Millisecond
	d := newTestDispatcher(t, NewAdmissionGate(1, cooldown), &fakeMailer{})

	start := time.Now()
	require.NoError(t, d.Send(context.Background(), testJob(1)))
	require.GreaterOrEqual(t, time.Since(start), cooldown)
}

func TestSendFailureReleasesSlot(t *testing.T) {
	mailer := &fakeMailer{err: errors.New("535 authentication failed")}
	d := newTestDispatcher(t, NewAdmissionGate(1, 0), mailer)

	err := d.Send(context.Background(), testJob(1))
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	require.ErrorContains(t, err, "535")

	mailer.mu.Lock()
	mailer.err = nil
	mailer.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Send(ctx, testJob(2)))
	require.Len(t, mailer.sent(), 1)
}

func TestSendRateLimitedWhenContextEndsWhileWaiting(t *testing.T) {
	observer := &concurrencyObserver{started: make(chan Job, 1)}
	release := make(chan struct{})
	gate := NewAdmissionGate(1, 0)
	d := newTestDispatcher(t, gate, &fakeMailer{block: release}, WithSendObserver(observer))

	done := make(chan error, 1)
	go func() { done <- d.Send(context.Background(), testJob(1)) }()
	<-observer.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Send(ctx, testJob(2))

	var rateLimited *RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

func TestSendRejectsInvalidJob(t *testing.T) {
	d := newTestDispatcher(t, NewAdmissionGate(1, 0), &fakeMailer{})

	require.ErrorIs(t, d.Send(context.Background(), Job{To: "not-an-address", Subject: "s", HTMLBody: "b"}), ErrInvalidJob)
	require.ErrorIs(t, d.Send(context.Background(), Job{To: "a@example.com", HTMLBody: "b"}), ErrInvalidJob)
	require.ErrorIs(t, d.Enqueue(Job{To: "a@example.com", Subject: "s"}), ErrInvalidJob)
}

func TestComposeAddsHeadersAndRenditions(t *testing.T) {
	mailer := &fakeMailer{}
	fixed := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, NewAdmissionGate(1, 0), mailer, WithDispatcherClock(func() time.Time { return fixed }))

	require.NoError(t, d.Send(context.Background(), Job{
		To:       "alice@example.com",
		Subject:  "Password reset request",
		HTMLBody: "<p>Use <a href=\"https://example.com/r\">this link</a> &amp; enjoy</p>",
	}))

	sent := mailer.sent()
	require.Len(t, sent, 1)
	msg := sent[0]

	require.Equal(t, []string{"alice@example.com"}, msg.To)
	require.Equal(t, "[ProductWebsite] Password reset request", msg.Subject)
	require.Equal(t, "ProductWebsite", msg.FromName)
	require.Equal(t, "ProductWebsite", msg.Headers["Organization"])
	require.Equal(t, "bulk", msg.Headers["Precedence"])
	require.Equal(t, "auto-generated", msg.Headers["Auto-Submitted"])

	require.Contains(t, msg.TextBody, "Use this link (https://example.com/r) & enjoy")
	require.Contains(t, msg.TextBody, "© 2025 ProductWebsite")
	require.NotContains(t, msg.TextBody, "<p>")

	require.Contains(t, msg.HTMLBody, "<h1")
	require.Contains(t, msg.HTMLBody, `<a href="https://example.com/r">this link</a>`)
}

func TestEnqueueDeliversThroughWorkers(t *testing.T) {
	mailer := &fakeMailer{}
	d, err := NewDispatcher(NewAdmissionGate(2, time.Millisecond), mailer, DispatcherConfig{From: "no-reply@example.com"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(testJob(i)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	require.Len(t, mailer.sent(), 3)
	require.ErrorIs(t, d.Enqueue(testJob(9)), ErrDispatcherClosed)
}

func TestEnqueueRateLimitedWhenQueueFull(t *testing.T) {
	observer := &concurrencyObserver{started: make(chan Job, 4)}
	release := make(chan struct{})
	mailer := &fakeMailer{block: release}

	d, err := NewDispatcher(NewAdmissionGate(1, 0), mailer, DispatcherConfig{
		From:      "no-reply@example.com",
		QueueSize: 1,
	}, WithSendObserver(observer))
	require.NoError(t, err)

	require.NoError(t, d.Enqueue(testJob(1)))
	<-observer.started // the only worker is now busy

	require.NoError(t, d.Enqueue(testJob(2)))

	err = d.Enqueue(testJob(3))
	var rateLimited *RateLimitedError
	require.ErrorAs(t, err, &rateLimited)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	require.Len(t, mailer.sent(), 2)
}
