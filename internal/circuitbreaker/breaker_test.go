package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/zapshift/internal/apperr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New(threshold, time.Minute)
	b.now = clock.Now
	return b, clock
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	assert.True(t, b.Allow("stripe"))

	b.RecordFailure("stripe")
	assert.False(t, b.Allow("stripe"))
	assert.Equal(t, StateOpen, b.State("stripe"))

	// Other keys are unaffected.
	assert.True(t, b.Allow("other"))
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.RecordFailure("stripe")
	b.RecordFailure("stripe")

	clock.Advance(time.Minute)
	require.True(t, b.Allow("stripe"))
	assert.Equal(t, StateHalfOpen, b.State("stripe"))
	assert.False(t, b.Allow("stripe"), "only one probe while half-open")

	b.RecordSuccess("stripe")
	assert.Equal(t, StateClosed, b.State("stripe"))
	assert.True(t, b.Allow("stripe"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2)
	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	clock.Advance(time.Minute)
	b.Allow("stripe")

	b.RecordFailure("stripe")
	assert.Equal(t, StateOpen, b.State("stripe"))
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	b.RecordSuccess("stripe")
	b.RecordFailure("stripe")
	b.RecordFailure("stripe")
	assert.Equal(t, StateClosed, b.State("stripe"))
}

func TestBreaker_Do(t *testing.T) {
	b, _ := newTestBreaker(2)
	boom := errors.New("connection reset")
	notFound := errors.New("no such session")
	tripOn := func(err error) bool { return errors.Is(err, boom) }

	// Errors not selected by tripOn do not count.
	for i := 0; i < 5; i++ {
		err := b.Do("stripe", func() error { return notFound }, tripOn)
		assert.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, StateClosed, b.State("stripe"))

	_ = b.Do("stripe", func() error { return boom }, tripOn)
	_ = b.Do("stripe", func() error { return boom }, tripOn)

	called := false
	err := b.Do("stripe", func() error { called = true; return nil }, tripOn)
	assert.False(t, called)
	assert.True(t, IsOpen(err))
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := New(100, time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Allow("stripe")
			b.RecordFailure("stripe")
			b.RecordSuccess("stripe")
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, b.State("stripe"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
