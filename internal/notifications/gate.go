package notifications

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/charlesng35/usermanager/pkg/metrics"
)

const (
	// DefaultMaxInFlight is the number of sends admitted at once.
	DefaultMaxInFlight = 5
	// DefaultCooldown is how long a slot stays occupied after each send attempt.
	DefaultCooldown = 12 * time.Second
)

// AdmissionGate caps concurrent email sends. Waiters are admitted in FIFO order and a
// released slot only becomes available again once the cooldown has elapsed.
// Build one per process and share it by pointer.
type AdmissionGate struct {
	sem      *semaphore.Weighted
	capacity int
	cooldown time.Duration
	sleep    func(time.Duration)
}

// NewAdmissionGate constructs a gate with capacity slots and the given cooldown.
func NewAdmissionGate(capacity int, cooldown time.Duration) *AdmissionGate {
	if capacity <= 0 {
		capacity = DefaultMaxInFlight
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &AdmissionGate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: capacity,
		cooldown: cooldown,
		sleep:    time.Sleep,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (g *AdmissionGate) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("admission gate: %w", err)
	}
	metrics.EmailInFlight.Inc()
	return nil
}

// Release waits out the cooldown and then returns the slot to the pool.
func (g *AdmissionGate) Release() {
	if g.cooldown > 0 {
		g.sleep(g.cooldown)
	}
	metrics.EmailInFlight.Dec()
	g.sem.Release(1)
}

// Capacity reports the maximum number of concurrent sends.
func (g *AdmissionGate) Capacity() int {
	return g.capacity
}

// Cooldown reports the per-send hold time.
func (g *AdmissionGate) Cooldown() time.Duration {
	return g.cooldown
}
