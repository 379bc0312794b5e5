package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"
)

func newTestDispatcher(rps float64, timeout time.Duration) *Dispatcher {
	return New(models.DispatcherConfig{
		RequestsPerSecond: rps,
		Burst:             1,
		QueueSize:         64,
		CallTimeout:       timeout,
	})
}

func TestExecutePreservesSubmissionOrder(t *testing.T) {
	d := newTestDispatcher(20, time.Second)
	defer d.Close()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	// Tokens arrive every 50ms; 20ms submission gaps keep enqueue order
	// deterministic while several ops wait at the gate together.
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Execute(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
			if err != nil {
				t.Errorf("Execute(%d) failed: %v", i, err)
			}
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("Expected FIFO order, got %v", order)
		}
	}
}

func TestRateBound(t *testing.T) {
	d := newTestDispatcher(20, time.Second)
	defer d.Close()

	const ops = 5
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < ops; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Execute(context.Background(), func(ctx context.Context) (any, error) {
				return nil, nil
			})
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	// (B-1)/N seconds minimum: 4/20 = 200ms.
	if min := 200 * time.Millisecond; elapsed < min {
		t.Errorf("Expected %d ops at 20/sec to take at least %v, took %v", ops, min, elapsed)
	}
}

func TestFailedOperationDoesNotStallQueue(t *testing.T) {
	d := newTestDispatcher(1000, time.Second)
	defer d.Close()

	injected := errors.New("remote exploded")
	_, err := d.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, injected
	})
	if !errors.Is(err, injected) {
		t.Fatalf("Expected injected error, got %v", err)
	}

	v, err := d.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Subsequent operation failed: %v", err)
	}
	if v != "ok" {
		t.Errorf("Expected ok, got %v", v)
	}

	stats := d.Stats()
	if stats.Failed != 1 || stats.Completed != 1 {
		t.Errorf("Expected 1 failed and 1 completed, got %+v", stats)
	}
}

func TestCallTimeout(t *testing.T) {
	d := newTestDispatcher(1000, 50*time.Millisecond)
	defer d.Close()

	_, err := d.Execute(context.Background(), func(ctx context.Context) (any, error) {
		select {
		case <-time.After(time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if !store.IsKind(err, store.KindRemoteTimeout) {
		t.Fatalf("Expected RemoteTimeout, got %v", err)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	d := newTestDispatcher(1000, time.Second)
	d.Close()

	_, err := d.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if !store.IsKind(err, store.KindRemoteUnavailable) {
		t.Fatalf("Expected RemoteUnavailable after close, got %v", err)
	}
}

func TestDoTyped(t *testing.T) {
	d := newTestDispatcher(1000, time.Second)
	defer d.Close()

	n, err := Do(d, context.Background(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if n != 42 {
		t.Errorf("Expected 42, got %d", n)
	}
}
