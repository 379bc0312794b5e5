// Package dispatch serializes outbound calls to the remote record store.
// The published limit is 5 requests per second; every gateway call funnels
// through one Dispatcher so the process as a whole stays under it.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Operation is a single outbound remote call.
type Operation func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type task struct {
	ctx  context.Context
	op   Operation
	done chan result
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Enqueued  int64
	Completed int64
	Failed    int64
}

// Dispatcher gates remote calls behind a token bucket while preserving
// submission order. Tokens are consumed by a single pump goroutine, so FIFO
// holds even when many flows enqueue concurrently. A failed operation never
// stalls the queue; retry policy belongs to the caller.
type Dispatcher struct {
	limiter     *rate.Limiter
	queue       chan *task
	callTimeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	enqueued  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func New(cfg models.DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		queue:       make(chan *task, cfg.QueueSize),
		callTimeout: cfg.CallTimeout,
	}
	d.wg.Add(1)
	go d.pump()
	return d
}

// Execute enqueues op and blocks until it completes or the caller's context
// ends. Operations start in submission order; ordering between two callers
// racing on the same entity is not guaranteed (both suspend here).
func (d *Dispatcher) Execute(ctx context.Context, op Operation) (any, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, store.E(store.KindRemoteUnavailable, "dispatcher is closed")
	}
	t := &task{ctx: ctx, op: op, done: make(chan result, 1)}
	select {
	case d.queue <- t:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		return nil, store.E(store.KindRemoteUnavailable, "dispatcher queue is full")
	}
	d.enqueued.Add(1)

	select {
	case r := <-t.done:
		return r.value, r.err
	case <-ctx.Done():
		// The pump will observe the dead context and skip the call.
		return nil, store.Wrap(store.KindRemoteTimeout, ctx.Err(), "canceled while queued")
	}
}

// Do is a typed wrapper over Execute.
func Do[T any](d *Dispatcher, ctx context.Context, op func(ctx context.Context) (T, error)) (T, error) {
	v, err := d.Execute(ctx, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, store.E(store.KindRemoteUnavailable, "dispatcher returned unexpected type %T", v)
	}
	return typed, nil
}

func (d *Dispatcher) pump() {
	defer d.wg.Done()
	for t := range d.queue {
		if t.ctx.Err() != nil {
			d.failed.Add(1)
			t.done <- result{err: store.Wrap(store.KindRemoteTimeout, t.ctx.Err(), "canceled while queued")}
			continue
		}
		if err := d.limiter.Wait(t.ctx); err != nil {
			d.failed.Add(1)
			t.done <- result{err: store.Wrap(store.KindRemoteTimeout, err, "canceled waiting for rate limit")}
			continue
		}
		// Token held: start the call. Launching here keeps start order FIFO
		// while letting slow remote calls overlap.
		d.wg.Add(1)
		go d.run(t)
	}
}

func (d *Dispatcher) run(t *task) {
	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(t.ctx, d.callTimeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		v, err := t.op(ctx)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			d.failed.Add(1)
		} else {
			d.completed.Add(1)
		}
		t.done <- r
	case <-ctx.Done():
		// The in-flight call cannot truly be canceled; its result is dropped.
		d.failed.Add(1)
		zap.L().Warn("Remote call timed out", zap.Duration("timeout", d.callTimeout))
		t.done <- result{err: store.Wrap(store.KindRemoteTimeout, ctx.Err(), "remote call exceeded %v", d.callTimeout)}
	}
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.enqueued.Load(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
	}
}

// Close stops accepting work and waits for queued operations to drain.
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
