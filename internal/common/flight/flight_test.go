package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrTryInitRunsOnce(t *testing.T) {
	cache := New[string, int](CacheFailures)
	var calls atomic.Int32
	release := make(chan struct{})

	const callers = 32
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get("python").GetOrTryInit(context.Background(), func(ctx context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected initializer to run once, ran %d times", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, errs[i])
		}
		if results[i] != 42 {
			t.Fatalf("caller %d: expected 42, got %d", i, results[i])
		}
	}
	if state := cache.Get("python").State(); state != SlotResolved {
		t.Fatalf("expected resolved slot, got %s", state)
	}
}

func TestConcurrentCallersShareFailure(t *testing.T) {
	boom := errors.New("install failed")
	for _, policy := range []FailurePolicy{RetryFailures, CacheFailures} {
		t.Run(policy.String(), func(t *testing.T) {
			slot := New[string, string](policy).Get("rust")
			var calls atomic.Int32
			release := make(chan struct{})

			const callers = 8
			var wg sync.WaitGroup
			errs := make([]error, callers)
			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = slot.GetOrTryInit(context.Background(), func(ctx context.Context) (string, error) {
						calls.Add(1)
						<-release
						return "", boom
					})
				}(i)
			}
			time.Sleep(20 * time.Millisecond)
			close(release)
			wg.Wait()

			if got := calls.Load(); got != 1 {
				t.Fatalf("expected one attempt, got %d", got)
			}
			for i, err := range errs {
				if !errors.Is(err, boom) {
					t.Fatalf("caller %d: expected shared failure, got %v", i, err)
				}
			}
		})
	}
}

func TestFailurePolicy(t *testing.T) {
	cases := []struct {
		name      string
		policy    FailurePolicy
		wantCalls int32
		wantErr   bool
	}{
		{name: "retry", policy: RetryFailures, wantCalls: 2, wantErr: false},
		{name: "cache", policy: CacheFailures, wantCalls: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slot := New[string, int](tc.policy).Get("go")
			var calls atomic.Int32
			init := func(ctx context.Context) (int, error) {
				if calls.Add(1) == 1 {
					return 0, errors.New("first attempt fails")
				}
				return 7, nil
			}
			if _, err := slot.GetOrTryInit(context.Background(), init); err == nil {
				t.Fatalf("expected first attempt to fail")
			}
			val, err := slot.GetOrTryInit(context.Background(), init)
			if tc.wantErr && err == nil {
				t.Fatalf("expected cached failure")
			}
			if !tc.wantErr && (err != nil || val != 7) {
				t.Fatalf("expected retry to succeed, got %d, %v", val, err)
			}
			if got := calls.Load(); got != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, got)
			}
		})
	}
}

func TestCallerCancellationDoesNotAbortInit(t *testing.T) {
	slot := New[string, int](CacheFailures).Get("zig")
	release := make(chan struct{})
	var initCtxErr atomic.Value

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := slot.GetOrTryInit(ctx, func(ctx context.Context) (int, error) {
			<-release
			if ctx.Err() != nil {
				initCtxErr.Store(ctx.Err())
			}
			return 3, nil
		})
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled caller, got %v", err)
	}

	close(release)
	val, err := slot.GetOrTryInit(context.Background(), func(ctx context.Context) (int, error) {
		t.Fatalf("initializer must not run twice")
		return 0, nil
	})
	if err != nil || val != 3 {
		t.Fatalf("expected 3, got %d, %v", val, err)
	}
	if v := initCtxErr.Load(); v != nil {
		t.Fatalf("initializer saw cancellation: %v", v)
	}
}

func TestInitializerPanicBecomesError(t *testing.T) {
	slot := New[int, int](CacheFailures).Get(1)
	_, err := slot.GetOrTryInit(context.Background(), func(ctx context.Context) (int, error) {
		panic("bad plugin")
	})
	if err == nil {
		t.Fatalf("expected error from panicking initializer")
	}
	if _, ok := slot.Peek(); ok {
		t.Fatalf("failed slot must not peek as resolved")
	}
}

func TestDistinctKeysAreIndependent(t *testing.T) {
	cache := New[string, string](CacheFailures)
	for _, key := range []string{"3.11", "3.12"} {
		key := key
		val, err := cache.Get(key).GetOrTryInit(context.Background(), func(ctx context.Context) (string, error) {
			return "installed-" + key, nil
		})
		if err != nil || val != "installed-"+key {
			t.Fatalf("key %s: got %q, %v", key, val, err)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("expected 2 slots, got %d", cache.Len())
	}
}
