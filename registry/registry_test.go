package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/bingoserver/broadcast"
)

// fixedClock returns the same instant until advanced.
type fixedClock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func TestRecordChange_Snapshot(t *testing.T) {
	clock := &fixedClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	r := New(WithClock(clock.Now))
	a, b := uuid.New(), uuid.New()

	tsA := r.RecordChange(a)
	clock.Advance(time.Second)
	tsB := r.RecordChange(b)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, tsA, snapshot[a])
	assert.Equal(t, tsB, snapshot[b])

	// the snapshot is a copy
	delete(snapshot, a)
	_, ok := r.LastChanged(a)
	assert.True(t, ok)
}

func TestRecordChange_MonotonicPerGame(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	r := New(WithClock(clock.Now))
	game := uuid.New()

	first := r.RecordChange(game)
	second := r.RecordChange(game)
	assert.True(t, second.After(first), "same clock reading must still advance the game's timestamp")
}

func TestRecordChange_ClearsOnOverflow(t *testing.T) {
	var dropped []int
	r := New(WithCapacity(3), WithResetHook(func(n int) { dropped = append(dropped, n) }))

	games := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, g := range games {
		r.RecordChange(g)
	}
	require.Equal(t, 3, r.Len())

	// re-recording a tracked game never evicts
	r.RecordChange(games[0])
	assert.Equal(t, 3, r.Len())
	assert.Empty(t, dropped)

	newcomer := uuid.New()
	r.RecordChange(newcomer)

	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int{3}, dropped)
	_, ok := r.LastChanged(games[1])
	assert.False(t, ok, "older entries are dropped wholesale")
	_, ok = r.LastChanged(newcomer)
	assert.True(t, ok)
}

func TestSubscription_RapidChangesWakeOnce(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	r := New(WithClock(clock.Now))
	game := uuid.New()
	sub := r.Subscribe()

	var latest time.Time
	for i := 0; i < 10; i++ {
		clock.Advance(time.Millisecond)
		latest = r.RecordChange(game)
	}

	require.NoError(t, sub.Next(context.Background()))
	ts, ok := sub.LastChanged(game)
	require.True(t, ok)
	assert.Equal(t, latest, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sub.Next(ctx), context.DeadlineExceeded)
}

func TestReadsDoNotNotify(t *testing.T) {
	r := New()
	game := uuid.New()
	r.RecordChange(game)
	sub := r.Subscribe()

	r.Snapshot()
	r.LastChanged(game)
	r.Len()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sub.Next(ctx), context.DeadlineExceeded)
}

func TestTouchAll(t *testing.T) {
	clock := &fixedClock{now: time.Unix(1700000000, 0)}
	r := New(WithClock(clock.Now))
	sub := r.Subscribe()

	assert.Equal(t, 0, r.TouchAll())

	a, b := uuid.New(), uuid.New()
	before := r.RecordChange(a)
	r.RecordChange(b)
	require.NoError(t, sub.Next(context.Background()))

	assert.Equal(t, 2, r.TouchAll())
	require.NoError(t, sub.Next(context.Background()))
	after, _ := r.LastChanged(a)
	assert.True(t, after.After(before))
}

func TestClose(t *testing.T) {
	r := New()
	sub := r.Subscribe()
	r.Close(errors.New("feed lost"))

	assert.ErrorIs(t, sub.Next(context.Background()), broadcast.ErrClosed)
	// recording still works, it just wakes no one
	r.RecordChange(uuid.New())
	assert.Equal(t, 1, r.Len())
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	r := New(WithCapacity(50))
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.RecordChange(uuid.New())
			}
		}()
	}
	for rd := 0; rd < 4; rd++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Len(), 50)
}
