package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"valve_dashboard/internal/logger"
)

// ErrInvalidInterval is returned by Start for a non-positive interval.
var ErrInvalidInterval = errors.New("invalid poll interval")

// FetchFunc performs one fetch for a cycle.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// ApplyFunc receives completions that survived the liveness and recency
// checks. It runs under the cycle's lock: calls for one cycle never overlap
// and none start after Cancel returns. It must not call Cancel on its own
// cycle.
type ApplyFunc[T any] func(Result[T])

// Result is the outcome of one dispatched fetch.
type Result[T any] struct {
	Seq         uint64
	Value       T
	Err         error
	IssuedAt    time.Time
	CompletedAt time.Time
}

// Options configures a cycle.
type Options struct {
	Name     string
	Interval time.Duration
	Clock    Clock
	Log      *logger.Logger
}

// Cycle fetches once immediately and then on every tick until cancelled.
// Overlapping fetches are allowed; only the newest completion is applied.
type Cycle[T any] struct {
	name     string
	interval time.Duration
	clock    Clock
	log      *logger.Logger
	fetch    FetchFunc[T]
	apply    ApplyFunc[T]
	ctx      context.Context

	issued atomic.Uint64

	mu      sync.Mutex
	alive   bool
	applied uint64

	stop     chan struct{}
	done     chan struct{}
	trigger  chan struct{}
	inflight sync.WaitGroup
}

// Start launches a cycle. ctx bounds the fetches and the cycle itself:
// cancelling it has the same effect as Cancel, and additionally aborts
// in-flight fetches.
func Start[T any](ctx context.Context, opts Options, fetch FetchFunc[T], apply ApplyFunc[T]) (*Cycle[T], error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, opts.Interval)
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}

	c := &Cycle[T]{
		name:     opts.Name,
		interval: opts.Interval,
		clock:    opts.Clock,
		log:      logger.OrNop(opts.Log),
		fetch:    fetch,
		apply:    apply,
		ctx:      ctx,
		alive:    true,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		trigger:  make(chan struct{}, 1),
	}

	t := c.clock.Ticker(c.interval)
	go c.run(t)
	return c, nil
}

func (c *Cycle[T]) run(t Ticker) {
	defer close(c.done)
	defer t.Stop()

	c.dispatch()
	for {
		select {
		case <-c.stop:
			return
		case <-c.ctx.Done():
			c.markDead()
			return
		case <-t.Chan():
			c.dispatch()
		case <-c.trigger:
			c.dispatch()
		}
	}
}

// dispatch starts one fetch without waiting for earlier ones.
func (c *Cycle[T]) dispatch() {
	seq := c.issued.Add(1)
	issuedAt := c.clock.Now()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		v, err := c.safeFetch()
		c.complete(Result[T]{
			Seq:         seq,
			Value:       v,
			Err:         err,
			IssuedAt:    issuedAt,
			CompletedAt: c.clock.Now(),
		})
	}()
}

// safeFetch turns a panicking fetch into an error so a broken fetch cannot
// take the process down.
func (c *Cycle[T]) safeFetch() (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch %s panicked: %v", c.name, r)
		}
	}()
	return c.fetch(c.ctx)
}

func (c *Cycle[T]) complete(r Result[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.alive {
		c.log.Debugw("poll_result_discarded", "cycle", c.name, "seq", r.Seq, "reason", "cancelled")
		return
	}
	if r.Seq <= c.applied {
		c.log.Debugw("poll_result_discarded", "cycle", c.name, "seq", r.Seq, "applied", c.applied, "reason", "stale")
		return
	}
	c.applied = r.Seq
	c.apply(r)
}

func (c *Cycle[T]) markDead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// Cancel stops future ticks and discards any completion that arrives
// afterwards. In-flight fetches are not aborted. Safe to call repeatedly.
func (c *Cycle[T]) Cancel() {
	if c.markDead() {
		close(c.stop)
	}
	<-c.done
}

// Trigger requests an immediate out-of-band fetch. It reports false when
// the cycle is no longer live.
func (c *Cycle[T]) Trigger() bool {
	if !c.Alive() {
		return false
	}
	select {
	case c.trigger <- struct{}{}:
	default: // one is already queued
	}
	return true
}

// Alive reports whether the cycle still applies results.
func (c *Cycle[T]) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// LastApplied is the sequence number of the last applied completion.
func (c *Cycle[T]) LastApplied() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied
}

// Issued is the number of fetches dispatched so far.
func (c *Cycle[T]) Issued() uint64 { return c.issued.Load() }

// Wait blocks until every dispatched fetch has returned. Call it after
// Cancel.
func (c *Cycle[T]) Wait() { c.inflight.Wait() }

// Name returns the cycle's name.
func (c *Cycle[T]) Name() string { return c.name }
