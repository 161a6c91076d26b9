package probe

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLimiter_BoundsInFlight(t *testing.T) {
	l := NewLimiter(3)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			if n := l.InFlight(); n > l.Capacity() {
				t.Errorf("InFlight() = %d exceeds capacity %d", n, l.Capacity())
			}
			time.Sleep(5 * time.Millisecond)
			l.Release()
		}()
	}
	wg.Wait()

	if l.Peak() > 3 {
		t.Errorf("Peak() = %d, want <= 3", l.Peak())
	}
	if l.Peak() < 1 {
		t.Errorf("Peak() = %d, want >= 1", l.Peak())
	}
	if l.InFlight() != 0 {
		t.Errorf("InFlight() = %d after all releases, want 0", l.InFlight())
	}
}

func TestLimiter_AcquireHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); err == nil {
		t.Fatal("Acquire() on a full limiter with expiring context returned nil")
	}
	if l.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", l.InFlight())
	}
}

func TestNewLimiter_MinimumCapacity(t *testing.T) {
	if got := NewLimiter(0).Capacity(); got != 1 {
		t.Errorf("NewLimiter(0).Capacity() = %d, want 1", got)
	}
}
