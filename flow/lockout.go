package flow

import (
	"context"
	"sync"
	"time"
)

// LockoutState is the attempt record kept per lockout key.
type LockoutState struct {
	Failures    int
	LastFailure time.Time
	// LockedUntil is zero when the key is not locked.
	LockedUntil time.Time
}

// Locked reports whether the state is locked at now.
func (s LockoutState) Locked(now time.Time) bool {
	return now.Before(s.LockedUntil)
}

// LockoutPolicy carries the thresholds applied by a LockoutStore.
type LockoutPolicy struct {
	// MaxFailures is the number of failures before lockout (e.g. 5)
	MaxFailures int

	// LockoutDuration is how long to lock the key (e.g. 15 minutes)
	LockoutDuration time.Duration

	// FailureWindow is how long an unlocked failure streak is remembered.
	// Zero keeps the streak until a success or a lockout expiry.
	FailureWindow time.Duration
}

// LockoutStore defines the storage for tracking login failures and lockouts.
type LockoutStore interface {
	// RecordFailure increments the failure count for key and, when the updated
	// count reaches policy.MaxFailures, sets the lock to now+LockoutDuration.
	// Both steps happen atomically with respect to other calls for key.
	RecordFailure(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutState, error)

	// ClearFailures removes any record for key.
	ClearFailures(ctx context.Context, key string) error

	// ClearUnlessLocked removes the record for key unless it is locked at
	// now, in which case the record is kept and returned. The check and the
	// removal are atomic with respect to RecordFailure.
	ClearUnlessLocked(ctx context.Context, key string, now time.Time) (LockoutState, error)

	// LockedUntil returns the lock expiry for key when it is locked at now.
	LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error)
}

// LockoutInfo contains information about a lockout event.
type LockoutInfo struct {
	Key         string
	Failures    int
	MaxFailures int
	LockedUntil time.Time
}

// LockoutHooks provides extension points for observing lockout behavior.
type LockoutHooks struct {
	// OnLocked is called when a recorded failure locks the key.
	OnLocked func(ctx context.Context, info *LockoutInfo)

	// OnCleared is called when a success clears the key.
	OnCleared func(ctx context.Context, key string)
}

// Throttle is the single owner of login attempt state. Callers only see the
// IsLocked and Record operations.
type Throttle struct {
	store  LockoutStore
	policy LockoutPolicy
	hooks  LockoutHooks
	now    func() time.Time
}

// NewThrottle creates a throttle over store.
func NewThrottle(store LockoutStore, maxFailures int, lockoutDuration, failureWindow time.Duration) *Throttle {
	return &Throttle{
		store: store,
		policy: LockoutPolicy{
			MaxFailures:     maxFailures,
			LockoutDuration: lockoutDuration,
			FailureWindow:   failureWindow,
		},
		now: time.Now,
	}
}

// SetHooks allows updating hooks after creation.
func (t *Throttle) SetHooks(hooks LockoutHooks) {
	t.hooks = hooks
}

// SetClock replaces the time source.
func (t *Throttle) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Throttle) Policy() LockoutPolicy { return t.policy }

// IsLocked returns 0 when key is not locked, else the whole seconds, rounded
// up, until the lock expires.
func (t *Throttle) IsLocked(ctx context.Context, key string) (int, error) {
	now := t.now()
	until, locked, err := t.store.LockedUntil(ctx, key, now)
	if err != nil {
		return 0, err
	}
	if !locked {
		return 0, nil
	}
	return remainingSeconds(now, until), nil
}

// Record applies one attempt outcome to key. A failure increments the record
// and may lock the key. A success clears the record unless the key is locked
// by then; the returned state is locked in that case and the success must
// not be honoured.
func (t *Throttle) Record(ctx context.Context, key string, success bool) (LockoutState, error) {
	now := t.now()
	if success {
		state, err := t.store.ClearUnlessLocked(ctx, key, now)
		if err != nil {
			return LockoutState{}, err
		}
		if state.Locked(now) {
			return state, nil
		}
		if t.hooks.OnCleared != nil {
			t.hooks.OnCleared(ctx, key)
		}
		return LockoutState{}, nil
	}

	state, err := t.store.RecordFailure(ctx, key, now, t.policy)
	if err != nil {
		return LockoutState{}, err
	}

	if state.Locked(now) && state.Failures == t.policy.MaxFailures && t.hooks.OnLocked != nil {
		t.hooks.OnLocked(ctx, &LockoutInfo{
			Key:         key,
			Failures:    state.Failures,
			MaxFailures: t.policy.MaxFailures,
			LockedUntil: state.LockedUntil,
		})
	}
	return state, nil
}

// Unlock removes key's record, lifting an active lock.
func (t *Throttle) Unlock(ctx context.Context, key string) error {
	if err := t.store.ClearFailures(ctx, key); err != nil {
		return err
	}
	if t.hooks.OnCleared != nil {
		t.hooks.OnCleared(ctx, key)
	}
	return nil
}

// RetryAfter returns the seconds left on state's lock at the throttle's now.
func (t *Throttle) RetryAfter(state LockoutState) int {
	now := t.now()
	if !state.Locked(now) {
		return 0
	}
	return remainingSeconds(now, state.LockedUntil)
}

func remainingSeconds(now, until time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// -- Memory Implementation --

// MemoryLockoutStore keeps attempt records in process memory.
type MemoryLockoutStore struct {
	mu    sync.Mutex
	items map[string]*LockoutState
}

func NewMemoryLockoutStore() *MemoryLockoutStore {
	return &MemoryLockoutStore{
		items: make(map[string]*LockoutState),
	}
}

func (s *MemoryLockoutStore) RecordFailure(ctx context.Context, key string, now time.Time, policy LockoutPolicy) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[key]
	if !ok {
		r = &LockoutState{}
		s.items[key] = r
	}

	switch {
	case !r.LockedUntil.IsZero() && !now.Before(r.LockedUntil):
		// An expired lockout starts a fresh streak.
		*r = LockoutState{}
	case r.LockedUntil.IsZero() && policy.FailureWindow > 0 && r.Failures > 0 && now.Sub(r.LastFailure) > policy.FailureWindow:
		r.Failures = 0
	}

	r.Failures++
	r.LastFailure = now
	if r.Failures >= policy.MaxFailures {
		r.LockedUntil = now.Add(policy.LockoutDuration)
	}

	return *r, nil
}

func (s *MemoryLockoutStore) ClearFailures(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryLockoutStore) ClearUnlessLocked(ctx context.Context, key string, now time.Time) (LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.items[key]; ok && r.Locked(now) {
		return *r, nil
	}
	delete(s.items, key)
	return LockoutState{}, nil
}

func (s *MemoryLockoutStore) LockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.items[key]
	if !ok || r.LockedUntil.IsZero() {
		return time.Time{}, false, nil
	}
	if !now.Before(r.LockedUntil) {
		delete(s.items, key)
		return time.Time{}, false, nil
	}
	return r.LockedUntil, true, nil
}

// Prune drops records whose lock has expired and whose streak is older than
// window. It returns the number of records removed.
func (s *MemoryLockoutStore) Prune(now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, r := range s.items {
		if now.Before(r.LockedUntil) {
			continue
		}
		if !r.LockedUntil.IsZero() || now.Sub(r.LastFailure) > window {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// StartJanitor prunes the store every interval until ctx is done.
func (s *MemoryLockoutStore) StartJanitor(ctx context.Context, interval, window time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.Prune(now, window)
			}
		}
	}()
}

func (s *MemoryLockoutStore) get(key string) (LockoutState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[key]
	if !ok {
		return LockoutState{}, false
	}
	return *r, true
}
