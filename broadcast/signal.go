// broadcast/signal.go
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned to every waiter once the writer side is gone.
var ErrClosed = errors.New("broadcast: signal closed")

// Signal wakes every waiting reader when the writer notifies. It carries no
// payload: any number of notifications between two waits collapse into one
// observed change.
type Signal struct {
	mutex   sync.RWMutex
	version uint64
	changed chan struct{}
	closed  bool
	err     error
}

func NewSignal() *Signal {
	return &Signal{changed: make(chan struct{})}
}

// Notify bumps the version and wakes all current waiters. No-op after Close.
func (s *Signal) Notify() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

// Close terminates the signal permanently. Waiters receive an error wrapping
// ErrClosed and, if given, cause.
func (s *Signal) Close(cause error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.err = ErrClosed
	if cause != nil {
		s.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	close(s.changed)
}

func (s *Signal) Version() uint64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.version
}

// Wait blocks until the version differs from seen and returns the new one.
func (s *Signal) Wait(ctx context.Context, seen uint64) (uint64, error) {
	for {
		s.mutex.RLock()
		if s.closed {
			err := s.err
			s.mutex.RUnlock()
			return seen, err
		}
		if s.version != seen {
			v := s.version
			s.mutex.RUnlock()
			return v, nil
		}
		ch := s.changed
		s.mutex.RUnlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return seen, ctx.Err()
		}
	}
}

// Receiver remembers the last version it observed.
type Receiver struct {
	signal *Signal
	seen   uint64
}

// Subscribe returns a receiver that only wakes for notifications after now.
func (s *Signal) Subscribe() *Receiver {
	return &Receiver{signal: s, seen: s.Version()}
}

// Changed blocks until at least one notification happened since the last
// call returned.
func (r *Receiver) Changed(ctx context.Context) error {
	v, err := r.signal.Wait(ctx, r.seen)
	if err != nil {
		return err
	}
	r.seen = v
	return nil
}
