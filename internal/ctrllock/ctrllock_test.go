package ctrllock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// exercise runs the shared contract. advance must move the locker's notion
// of time forward.
func exercise(t *testing.T, l Locker, advance func(time.Duration)) {
	ctx := context.Background()
	ttl := 30 * time.Second

	g, err := l.Acquire(ctx, "d1", "alice", ttl)
	if err != nil || g != Granted {
		t.Fatalf("Expected alice to be granted, got %v err=%v", g, err)
	}
	g, err = l.Acquire(ctx, "d1", "bob", ttl)
	if err != nil || g != Refused {
		t.Fatalf("Expected bob to be refused, got %v err=%v", g, err)
	}
	if g, _ = l.Acquire(ctx, "d2", "bob", ttl); g != Granted {
		t.Errorf("Expected bob to acquire an unrelated device, got %v", g)
	}

	// Refresh keeps alice's token alive past the original deadline.
	advance(20 * time.Second)
	if g, _ := l.Acquire(ctx, "d1", "alice", ttl); g != Refreshed {
		t.Errorf("Expected alice to refresh, got %v", g)
	}
	advance(20 * time.Second)
	if h, _ := l.Holder(ctx, "d1"); h != "alice" {
		t.Errorf("Expected alice to still hold d1, got %q", h)
	}

	// Release by a non-holder is ignored.
	if err := l.Release(ctx, "d1", "bob"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if h, _ := l.Holder(ctx, "d1"); h != "alice" {
		t.Errorf("Expected release by bob to be ignored, holder %q", h)
	}
	if err := l.Release(ctx, "d1", "alice"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if h, _ := l.Holder(ctx, "d1"); h != "" {
		t.Errorf("Expected d1 free, got %q", h)
	}

	// Expiry frees the token for another holder.
	l.Acquire(ctx, "d3", "alice", ttl)
	advance(31 * time.Second)
	if g, _ := l.Acquire(ctx, "d3", "bob", ttl); g != Granted {
		t.Errorf("Expected bob to be granted after alice's token expired, got %v", g)
	}

	// An expired token taken back by its old holder counts as a new grant.
	l.Acquire(ctx, "d4", "alice", ttl)
	advance(31 * time.Second)
	if g, _ := l.Acquire(ctx, "d4", "alice", ttl); g != Granted {
		t.Errorf("Expected alice to be granted again after expiry, got %v", g)
	}

	// Concurrent acquires by one holder yield exactly one new grant.
	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := l.Acquire(ctx, "d5", "carol", ttl)
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			if g == Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := granted.Load(); n != 1 {
		t.Errorf("Expected one new grant, got %d", n)
	}
}

func TestMemoryLocker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	exercise(t, NewMemory(clock), clock.Advance)
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	exercise(t, NewRedis(client), mr.FastForward)
}
