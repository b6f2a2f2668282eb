package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/bingoserver/broadcast"
)

// DefaultCapacity bounds the number of tracked games.
const DefaultCapacity = 100000

// Registry maps a game to the time it last changed. Every mutation notifies
// the change signal; reads never do.
//
// When a new game would push the registry past its capacity, all entries are
// dropped first. Sessions whose entry vanished miss that push and converge on
// their next regular fetch.
type Registry struct {
	mutex    sync.RWMutex
	entries  map[uuid.UUID]time.Time
	capacity int
	now      func() time.Time
	onReset  func(dropped int)
	signal   *broadcast.Signal
}

type Option func(*Registry)

func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithResetHook is called after the registry was cleared on overflow.
func WithResetHook(fn func(dropped int)) Option {
	return func(r *Registry) { r.onReset = fn }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[uuid.UUID]time.Time),
		capacity: DefaultCapacity,
		now:      time.Now,
		signal:   broadcast.NewSignal(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordChange marks gameID as changed now and wakes all subscribers.
// Timestamps are strictly increasing per game.
func (r *Registry) RecordChange(gameID uuid.UUID) time.Time {
	r.mutex.Lock()
	dropped := 0
	if _, tracked := r.entries[gameID]; !tracked && len(r.entries) >= r.capacity {
		dropped = len(r.entries)
		r.entries = make(map[uuid.UUID]time.Time)
	}
	ts := r.next(gameID)
	r.entries[gameID] = ts
	r.mutex.Unlock()

	r.signal.Notify()
	if dropped > 0 && r.onReset != nil {
		r.onReset(dropped)
	}
	return ts
}

// TouchAll marks every tracked game as changed with a single notification.
// Used after the change feed reconnected and notifications may be lost.
func (r *Registry) TouchAll() int {
	r.mutex.Lock()
	for id := range r.entries {
		r.entries[id] = r.next(id)
	}
	n := len(r.entries)
	r.mutex.Unlock()

	if n > 0 {
		r.signal.Notify()
	}
	return n
}

// next must be called with the write lock held.
func (r *Registry) next(gameID uuid.UUID) time.Time {
	ts := r.now()
	if prev, ok := r.entries[gameID]; ok && !ts.After(prev) {
		ts = prev.Add(time.Nanosecond)
	}
	return ts
}

func (r *Registry) LastChanged(gameID uuid.UUID) (time.Time, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	ts, ok := r.entries[gameID]
	return ts, ok
}

// Snapshot returns a copy of the full mapping.
func (r *Registry) Snapshot() map[uuid.UUID]time.Time {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshot := make(map[uuid.UUID]time.Time, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	return snapshot
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entries)
}

// Close ends the change signal for good; every subscription returns an
// error wrapping broadcast.ErrClosed from then on.
func (r *Registry) Close(cause error) {
	r.signal.Close(cause)
}

// Subscribe returns a subscription that wakes for mutations after this call.
func (r *Registry) Subscribe() *Subscription {
	return &Subscription{registry: r, receiver: r.signal.Subscribe()}
}

// Subscription is one reader's view of the registry.
type Subscription struct {
	registry *Registry
	receiver *broadcast.Receiver
}

// Next blocks until the registry changed at least once since the previous call.
func (s *Subscription) Next(ctx context.Context) error {
	return s.receiver.Changed(ctx)
}

func (s *Subscription) LastChanged(gameID uuid.UUID) (time.Time, bool) {
	return s.registry.LastChanged(gameID)
}

func (s *Subscription) Snapshot() map[uuid.UUID]time.Time {
	return s.registry.Snapshot()
}
