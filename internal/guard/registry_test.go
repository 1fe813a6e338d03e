package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(WithCooldown(30*time.Second), WithClock(clock.Now)), clock
}

func TestAcquire_RunsAndReleases(t *testing.T) {
	r, _ := newTestRegistry(t)

	ran := false
	err := r.Acquire(context.Background(), "c-1", func(context.Context) error {
		ran = true
		if !r.Locked("c-1") {
			t.Error("Locked() = false inside the closure")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !ran {
		t.Error("closure did not run")
	}
	if r.Locked("c-1") {
		t.Error("Locked() = true after Acquire returned")
	}
}

func TestAcquire_SerializesSameContract(t *testing.T) {
	r, _ := newTestRegistry(t)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			_ = r.Acquire(context.Background(), "c-1", func(context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
		})
	}
	wg.Wait()

	if got := maxActive.Load(); got != 1 {
		t.Errorf("max concurrent holders = %d, want 1", got)
	}
}

func TestAcquire_DifferentContractsRunConcurrently(t *testing.T) {
	r, _ := newTestRegistry(t)

	inA := make(chan struct{})
	releaseA := make(chan struct{})
	go func() {
		_ = r.Acquire(context.Background(), "a", func(context.Context) error {
			close(inA)
			<-releaseA
			return nil
		})
	}()
	<-inA
	defer close(releaseA)

	done := make(chan struct{})
	go func() {
		_ = r.Acquire(context.Background(), "b", func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("contract b was blocked by contract a")
	}
}

func TestAcquire_PropagatesError(t *testing.T) {
	r, _ := newTestRegistry(t)
	want := errors.New("boom")

	if err := r.Acquire(context.Background(), "c-1", func(context.Context) error { return want }); err != want {
		t.Errorf("Acquire() error = %v, want %v", err, want)
	}
	if r.Locked("c-1") {
		t.Error("lock held after failing closure")
	}
}

func TestAcquire_RecoversPanic(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.Acquire(context.Background(), "c-1", func(context.Context) error { panic("kaboom") })
	if err == nil {
		t.Fatal("Acquire() should turn a panic into an error")
	}
	if errors.GetSeverity(err) != errors.SeverityCritical {
		t.Errorf("GetSeverity() = %v, want critical", errors.GetSeverity(err))
	}

	// The lock must be usable again.
	if err := r.Acquire(context.Background(), "c-1", func(context.Context) error { return nil }); err != nil {
		t.Errorf("Acquire() after panic error = %v", err)
	}
}

func TestAcquire_ContextCanceledWhileWaiting(t *testing.T) {
	r, _ := newTestRegistry(t)

	hold := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = r.Acquire(context.Background(), "c-1", func(context.Context) error {
			close(held)
			<-hold
			return nil
		})
	}()
	<-held
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ran := false
	err := r.Acquire(ctx, "c-1", func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, errors.ErrConcurrencyConflict) {
		t.Errorf("Acquire() error = %v, want ErrConcurrencyConflict", err)
	}
	if ran {
		t.Error("closure ran without the lock")
	}
}

func TestTryStart_Cooldown(t *testing.T) {
	r, clock := newTestRegistry(t)

	if !r.TryStart("c-1") {
		t.Fatal("first TryStart() = false, want true")
	}
	if r.TryStart("c-1") {
		t.Error("second TryStart() while in progress = true, want false")
	}
	if !r.InProgress("c-1") {
		t.Error("InProgress() = false, want true")
	}

	r.Finish("c-1")
	if r.TryStart("c-1") {
		t.Error("TryStart() during cooldown = true, want false")
	}

	clock.Advance(31 * time.Second)
	if !r.TryStart("c-1") {
		t.Error("TryStart() after cooldown = false, want true")
	}
}

func TestTryStart_ConcurrentTriggersOneWinner(t *testing.T) {
	r, _ := newTestRegistry(t)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			if r.TryStart("c-1") {
				wins.Add(1)
			}
		})
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("TryStart winners = %d, want 1", got)
	}
}

func TestReset(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.TryStart("c-1")
	r.Finish("c-1")
	r.Reset("c-1")

	if !r.TryStart("c-1") {
		t.Error("TryStart() after Reset = false, want true")
	}
	r.Finish("unknown") // no-op
}

func TestLocalTrigger(t *testing.T) {
	r, _ := newTestRegistry(t)
	var g TriggerGuard = LocalTrigger{Registry: r}
	ctx := context.Background()

	ok, err := g.TryStart(ctx, "c-1")
	if err != nil || !ok {
		t.Fatalf("TryStart() = %v, %v; want true, nil", ok, err)
	}
	ok, _ = g.TryStart(ctx, "c-1")
	if ok {
		t.Error("second TryStart() = true, want false")
	}
	if err := g.Finish(ctx, "c-1"); err != nil {
		t.Errorf("Finish() error = %v", err)
	}
}
