package memo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoConcurrentCallersShareOneComputation(t *testing.T) {
	g := New[string]("test")
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "value", nil
			})
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected 1 computation, got %d", calls.Load())
	}
	for i, v := range results {
		if v != "value" {
			t.Errorf("caller %d got %q", i, v)
		}
	}
}

func TestDoMemoizesFailure(t *testing.T) {
	g := New[int]("test")
	boom := errors.New("boom")
	calls := 0

	for i := 0; i < 3; i++ {
		_, err := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if calls != 1 {
		t.Errorf("failure must be memoized, got %d computations", calls)
	}
}

func TestDoDistinctKeys(t *testing.T) {
	g := New[string]("test")
	for _, key := range []string{"a", "b", "c"} {
		v, err := g.Do(context.Background(), key, func(ctx context.Context) (string, error) {
			return key + "!", nil
		})
		if err != nil || v != key+"!" {
			t.Errorf("key %s: got %q, %v", key, v, err)
		}
	}
	if g.Len() != 3 {
		t.Errorf("expected 3 entries, got %d", g.Len())
	}
}

func TestDoCanceledWaiterLeavesComputationIntact(t *testing.T) {
	g := New[string]("test")
	release := make(chan struct{})
	var sawCanceled atomic.Bool

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, "k", func(fctx context.Context) (string, error) {
			<-release
			if fctx.Err() != nil {
				sawCanceled.Store(true)
			}
			return "done", nil
		})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled waiter, got %v", err)
	}

	close(release)
	v, err := g.Do(context.Background(), "k", func(ctx context.Context) (string, error) {
		t.Error("second computation started")
		return "", nil
	})
	if err != nil || v != "done" {
		t.Fatalf("expected memoized done, got %q, %v", v, err)
	}
	if sawCanceled.Load() {
		t.Error("computation context must not inherit caller cancellation")
	}
}

func TestDoPanicIsRecorded(t *testing.T) {
	g := New[int]("test")
	_, err := g.Do(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("bad")
	})
	if !errors.Is(err, ErrPanicked) {
		t.Fatalf("expected ErrPanicked, got %v", err)
	}
}
