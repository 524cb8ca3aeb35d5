package flow

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestThrottle(store LockoutStore, window time.Duration) (*Throttle, *fakeClock) {
	clock := newFakeClock()
	t := NewThrottle(store, 5, 15*time.Minute, window)
	t.SetClock(clock.Now)
	return t, clock
}

func TestThrottleLocksAtThreshold(t *testing.T) {
	throttle, clock := newTestThrottle(NewMemoryLockoutStore(), 15*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		state, err := throttle.Record(ctx, "a@x.com", false)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if state.Failures != i || state.Locked(clock.Now()) {
			t.Fatalf("failure %d: unexpected state %+v", i, state)
		}
	}
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 0 {
		t.Fatalf("expected unlocked before threshold, got %d", remaining)
	}

	state, _ := throttle.Record(ctx, "a@x.com", false)
	if !state.Locked(clock.Now()) {
		t.Fatal("expected lock at threshold")
	}
	remaining, err := throttle.IsLocked(ctx, "a@x.com")
	if err != nil || remaining != 900 {
		t.Fatalf("expected 900 seconds, got %d (%v)", remaining, err)
	}

	clock.Advance(10*time.Minute + 500*time.Millisecond)
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 300 {
		t.Errorf("expected remaining rounded up to 300, got %d", remaining)
	}

	clock.Advance(5 * time.Minute)
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 0 {
		t.Errorf("expected lock to expire, got %d", remaining)
	}
}

func TestThrottleKeysAreIndependent(t *testing.T) {
	throttle, _ := newTestThrottle(NewMemoryLockoutStore(), 0)
	ctx := context.Background()
	for range 5 {
		throttle.Record(ctx, "a@x.com", false)
	}
	if remaining, _ := throttle.IsLocked(ctx, "b@x.com"); remaining != 0 {
		t.Errorf("other key must stay unlocked, got %d", remaining)
	}
}

func TestThrottleSuccessClears(t *testing.T) {
	store := NewMemoryLockoutStore()
	throttle, _ := newTestThrottle(store, 0)
	ctx := context.Background()

	var cleared []string
	throttle.SetHooks(LockoutHooks{OnCleared: func(ctx context.Context, key string) { cleared = append(cleared, key) }})

	for range 3 {
		throttle.Record(ctx, "a@x.com", false)
	}
	if _, err := throttle.Record(ctx, "a@x.com", true); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if _, ok := store.get("a@x.com"); ok {
		t.Error("record should be removed")
	}
	if len(cleared) != 1 || cleared[0] != "a@x.com" {
		t.Errorf("unexpected cleared hooks %v", cleared)
	}

	state, _ := throttle.Record(ctx, "a@x.com", false)
	if state.Failures != 1 {
		t.Errorf("expected count to restart at 1, got %d", state.Failures)
	}
}

func TestThrottleExpiredLockoutStartsFreshStreak(t *testing.T) {
	store := NewMemoryLockoutStore()
	throttle, clock := newTestThrottle(store, 0)
	ctx := context.Background()

	for range 5 {
		throttle.Record(ctx, "a@x.com", false)
	}
	clock.Advance(16 * time.Minute)

	state, err := throttle.Record(ctx, "a@x.com", false)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if state.Failures != 1 || state.Locked(clock.Now()) {
		t.Errorf("expected a fresh unlocked streak, got %+v", state)
	}
}

func TestThrottleFailureWindow(t *testing.T) {
	throttle, clock := newTestThrottle(NewMemoryLockoutStore(), 15*time.Minute)
	ctx := context.Background()

	for range 4 {
		throttle.Record(ctx, "a@x.com", false)
	}
	clock.Advance(16 * time.Minute)

	state, _ := throttle.Record(ctx, "a@x.com", false)
	if state.Failures != 1 {
		t.Errorf("stale streak should reset, got %d failures", state.Failures)
	}
}

func TestThrottleConcurrentFailuresLockOnce(t *testing.T) {
	throttle, clock := newTestThrottle(NewMemoryLockoutStore(), 0)
	ctx := context.Background()

	var locks atomic.Int32
	throttle.SetHooks(LockoutHooks{OnLocked: func(ctx context.Context, info *LockoutInfo) {
		locks.Add(1)
	}})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			throttle.Record(ctx, "a@x.com", false)
		}()
	}
	wg.Wait()

	if got := locks.Load(); got != 1 {
		t.Errorf("expected exactly one lock transition, got %d", got)
	}
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining == 0 {
		t.Errorf("expected key locked at %v", clock.Now())
	}
}

func TestMemoryLockoutStorePrune(t *testing.T) {
	store := NewMemoryLockoutStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	policy := LockoutPolicy{MaxFailures: 2, LockoutDuration: time.Minute}

	store.RecordFailure(ctx, "stale", now, policy)
	store.RecordFailure(ctx, "locked", now, policy)
	store.RecordFailure(ctx, "locked", now, policy)
	store.RecordFailure(ctx, "fresh", now.Add(9*time.Minute), policy)

	removed := store.Prune(now.Add(10*time.Minute), 5*time.Minute)
	if removed != 2 {
		t.Errorf("expected 2 records pruned, got %d", removed)
	}
	if _, ok := store.get("fresh"); !ok {
		t.Error("recent streak should survive")
	}
}

func TestRemainingSecondsRoundsUp(t *testing.T) {
	now := time.Unix(0, 0)
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{time.Second, 1},
		{time.Second + time.Nanosecond, 2},
		{15 * time.Minute, 900},
	}
	for _, tt := range tests {
		if got := remainingSeconds(now, now.Add(tt.d)); got != tt.want {
			t.Errorf("remainingSeconds(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}

func TestThrottleSuccessKeepsActiveLock(t *testing.T) {
	store := NewMemoryLockoutStore()
	throttle, clock := newTestThrottle(store, 0)
	ctx := context.Background()

	var cleared int
	throttle.SetHooks(LockoutHooks{OnCleared: func(ctx context.Context, key string) { cleared++ }})

	for range 5 {
		throttle.Record(ctx, "a@x.com", false)
	}
	state, err := throttle.Record(ctx, "a@x.com", true)
	if err != nil {
		t.Fatalf("record success: %v", err)
	}
	if throttle.RetryAfter(state) != 900 {
		t.Fatalf("expected the lock to be reported, got %+v", state)
	}
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 900 || cleared != 0 {
		t.Fatalf("success must not lift a lock, remaining=%d cleared=%d", remaining, cleared)
	}

	if err := throttle.Unlock(ctx, "a@x.com"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 0 || cleared != 1 {
		t.Errorf("expected unlock to lift the lock, remaining=%d cleared=%d", remaining, cleared)
	}

	for range 5 {
		throttle.Record(ctx, "b@x.com", false)
	}
	clock.Advance(15 * time.Minute)
	if state, _ := throttle.Record(ctx, "b@x.com", true); throttle.RetryAfter(state) != 0 {
		t.Error("an expired lock must be cleared by a success")
	}
	if _, ok := store.get("b@x.com"); ok {
		t.Error("record should be removed after expiry and success")
	}
}

// newRedisStore returns a store on REDIS_ADDR when set, else on an
// in-process server. The server is nil for a real Redis.
func newRedisStore(t *testing.T) (*RedisLockoutStore, *miniredis.Miniredis, string) {
	t.Helper()
	prefix := "shopauth:test:" + uuid.NewString() + ":"

	var mr *miniredis.Miniredis
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		mr = miniredis.RunT(t)
		addr = mr.Addr()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	store := NewRedisLockoutStore(client, prefix)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return store, mr, prefix
}

func TestRedisLockoutStoreConcurrentFailures(t *testing.T) {
	store, _, _ := newRedisStore(t)
	throttle := NewThrottle(store, 5, 15*time.Minute, 15*time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	var locks atomic.Int32
	throttle.SetHooks(LockoutHooks{OnLocked: func(ctx context.Context, info *LockoutInfo) { locks.Add(1) }})
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := throttle.Record(ctx, "a@x.com", false); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := locks.Load(); got != 1 {
		t.Errorf("expected exactly one lock transition, got %d", got)
	}
	remaining, err := throttle.IsLocked(ctx, "a@x.com")
	if err != nil || remaining <= 0 || remaining > 900 {
		t.Fatalf("expected locked key, got %d (%v)", remaining, err)
	}

	if state, err := throttle.Record(ctx, "a@x.com", true); err != nil || throttle.RetryAfter(state) == 0 {
		t.Fatalf("success during lock must keep it, got %+v (%v)", state, err)
	}
	if err := throttle.Unlock(ctx, "a@x.com"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 0 {
		t.Errorf("expected cleared key, got %d", remaining)
	}
}

func TestRedisLockoutStoreLifecycle(t *testing.T) {
	store, mr, prefix := newRedisStore(t)
	throttle, clock := newTestThrottle(store, 10*time.Minute)
	ctx := context.Background()

	t.Run("locks at threshold", func(t *testing.T) {
		for i := 1; i <= 4; i++ {
			state, err := throttle.Record(ctx, "a@x.com", false)
			if err != nil || state.Failures != i || state.Locked(clock.Now()) {
				t.Fatalf("failure %d: unexpected state %+v (%v)", i, state, err)
			}
		}
		state, err := throttle.Record(ctx, "a@x.com", false)
		if err != nil || !state.LockedUntil.Equal(clock.Now().Add(15*time.Minute)) {
			t.Fatalf("expected lock until now+15m, got %+v (%v)", state, err)
		}
		if remaining, err := throttle.IsLocked(ctx, "a@x.com"); err != nil || remaining != 900 {
			t.Fatalf("expected 900 seconds, got %d (%v)", remaining, err)
		}
		if mr != nil {
			if ttl := mr.TTL(prefix + "a@x.com"); ttl != 15*time.Minute {
				t.Errorf("expected ttl of the longer of lockout and window, got %v", ttl)
			}
		}
	})

	t.Run("success keeps lock", func(t *testing.T) {
		clock.Advance(time.Minute)
		state, err := throttle.Record(ctx, "a@x.com", true)
		if err != nil || state.Failures != 5 || throttle.RetryAfter(state) != 840 {
			t.Fatalf("expected kept lock, got %+v (%v)", state, err)
		}
	})

	t.Run("expired lock restarts streak", func(t *testing.T) {
		clock.Advance(14 * time.Minute)
		if remaining, _ := throttle.IsLocked(ctx, "a@x.com"); remaining != 0 {
			t.Fatalf("expected lock expired, got %d", remaining)
		}
		state, err := throttle.Record(ctx, "a@x.com", false)
		if err != nil || state.Failures != 1 || state.Locked(clock.Now()) {
			t.Fatalf("expected fresh streak, got %+v (%v)", state, err)
		}
	})

	t.Run("stale window resets count", func(t *testing.T) {
		for range 3 {
			throttle.Record(ctx, "b@x.com", false)
		}
		clock.Advance(10*time.Minute + time.Second)
		state, err := throttle.Record(ctx, "b@x.com", false)
		if err != nil || state.Failures != 1 {
			t.Fatalf("expected count reset after window, got %+v (%v)", state, err)
		}
	})

	t.Run("success clears unlocked record", func(t *testing.T) {
		if _, err := throttle.Record(ctx, "b@x.com", true); err != nil {
			t.Fatalf("record success: %v", err)
		}
		state, _ := throttle.Record(ctx, "b@x.com", false)
		if state.Failures != 1 {
			t.Errorf("expected count to restart at 1, got %d", state.Failures)
		}
	})

	if mr == nil {
		return
	}

	t.Run("record expires", func(t *testing.T) {
		mr.FastForward(15*time.Minute + time.Second)
		if mr.Exists(prefix + "b@x.com") {
			t.Error("expected record to expire")
		}
	})

	t.Run("corrupt lock time", func(t *testing.T) {
		mr.HSet(prefix+"c@x.com", "locked_until", "soon")
		if _, err := throttle.IsLocked(ctx, "c@x.com"); err == nil {
			t.Error("expected parse error")
		}
	})
}
