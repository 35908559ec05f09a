package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RenewFunc performs one renewal call. It returns nil on success and a
// classified *Error otherwise.
type RenewFunc func(ctx context.Context) error

// CycleHooks observe renewal cycles. Both hooks run on the cycle's goroutine
// after the flag is set or the queue is drained, never under the
// coordinator's lock.
type CycleHooks struct {
	// OnStart runs when a renewal call is about to be issued.
	OnStart func(reactive bool)

	// OnSettle runs once per cycle after every waiter has been released.
	// reactive is true if any request-driven caller took part, which is the
	// only case in which a fatal result may end the session.
	OnSettle func(result CycleResult)
}

// CycleResult summarises one renewal cycle.
type CycleResult struct {
	Err      error
	Reactive bool
	Waiters  int
	Duration time.Duration
}

// continuation is a deferred completion for one caller. done is closed
// exactly once, after err is set.
type continuation struct {
	done chan struct{}
	err  error
}

// Coordinator serialises renewal demand: however many callers ask at once,
// at most one renewal call is outstanding, and every caller resumes with its
// result.
type Coordinator struct {
	renew   RenewFunc
	timeout time.Duration
	hooks   CycleHooks
	metrics *Metrics

	mu       sync.Mutex
	inFlight bool
	reactive bool
	queue    []*continuation
	renewals int64
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRenewalTimeout bounds each renewal call. Zero leaves it unbounded.
func WithRenewalTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.timeout = d }
}

// WithCycleHooks installs cycle observers.
func WithCycleHooks(h CycleHooks) CoordinatorOption {
	return func(c *Coordinator) { c.hooks = h }
}

// WithCoordinatorMetrics records renewal metrics.
func WithCoordinatorMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator returns a Coordinator that renews with fn.
func NewCoordinator(fn RenewFunc, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{renew: fn}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Await is the reactive entry point, used after a request was rejected with
// an expired credential. It joins the in-flight renewal or starts one, and
// returns the renewal's result.
//
// If ctx ends first Await returns ctx.Err(). The renewal carries on and the
// abandoned continuation is still released; its result is discarded.
func (c *Coordinator) Await(ctx context.Context) error {
	return c.join(ctx, true)
}

// Renew is the proactive entry point. Its failures never end the session.
func (c *Coordinator) Renew(ctx context.Context) error {
	return c.join(ctx, false)
}

// InFlight reports whether a renewal is outstanding.
func (c *Coordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Waiting returns the number of callers waiting on the current renewal.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Renewals returns how many renewal calls have been issued.
func (c *Coordinator) Renewals() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewals
}

func (c *Coordinator) join(ctx context.Context, reactive bool) error {
	k := &continuation{done: make(chan struct{})}

	c.mu.Lock()
	c.queue = append(c.queue, k)
	if reactive {
		c.reactive = true
	}
	start := !c.inFlight
	if start {
		c.inFlight = true
		c.renewals++
	}
	c.mu.Unlock()

	if start {
		// The renewal outlives any single caller.
		go c.cycle(context.WithoutCancel(ctx))
	}

	select {
	case <-k.done:
		return k.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycle runs one renewal and releases the queue. The flag is cleared in the
// same critical section that drains the queue, so a caller arriving after
// the drain starts a fresh cycle rather than joining a finished one.
func (c *Coordinator) cycle(ctx context.Context) {
	started := time.Now()
	var (
		err     error
		settled bool
	)

	// A panicking RenewFunc must not strand the queue.
	defer func() {
		if settled {
			return
		}
		r := recover()
		c.settle(started, &Error{Class: Transient, Op: "renew", Err: fmt.Errorf("%w: %v", ErrRenewalPanicked, r)})
	}()

	c.mu.Lock()
	reactive := c.reactive
	c.mu.Unlock()
	if c.hooks.OnStart != nil {
		c.hooks.OnStart(reactive)
	}

	err = c.call(ctx)
	settled = true
	c.settle(started, err)
}

func (c *Coordinator) call(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := c.renew(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Class: AuthInvalid, Op: "renew", Err: fmt.Errorf("%w after %s", ErrRenewalTimeout, c.timeout)}
	}
	return err
}

func (c *Coordinator) settle(started time.Time, err error) {
	c.mu.Lock()
	queue := c.queue
	reactive := c.reactive
	c.queue = nil
	c.reactive = false
	for _, k := range queue {
		k.err = err
		close(k.done)
	}
	c.inFlight = false
	c.mu.Unlock()

	result := CycleResult{
		Err:      err,
		Reactive: reactive,
		Waiters:  len(queue),
		Duration: time.Since(started),
	}
	c.metrics.observeRenewal(reactive, err, result.Duration, result.Waiters)
	if c.hooks.OnSettle != nil {
		c.hooks.OnSettle(result)
	}
}
