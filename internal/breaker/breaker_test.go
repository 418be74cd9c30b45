package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func TestBreakerOpensAtThreshold(t *testing.T) {
	clk := newFakeClock()
	b := New(Config{FailureThreshold: 5, ResetTimeout: time.Minute}, clk)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		require.True(t, b.CanExecute(), "below threshold the breaker stays closed")
	}
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	clk := newFakeClock()
	b := New(Config{FailureThreshold: 2, ResetTimeout: time.Minute}, clk)

	b.RecordFailure()
	b.RecordFailure()
	require.False(t, b.CanExecute())

	clk.Advance(59 * time.Second)
	require.False(t, b.CanExecute(), "reset timeout has not elapsed yet")

	clk.Advance(time.Second)
	require.True(t, b.CanExecute(), "timeout elapsed, probe admitted")
	require.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	clk := newFakeClock()
	b := New(Config{FailureThreshold: 1, ResetTimeout: time.Minute}, clk)

	b.RecordFailure()
	clk.Advance(time.Minute)
	require.True(t, b.CanExecute())

	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())
	require.True(t, b.CanExecute())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clk := newFakeClock()
	b := New(Config{FailureThreshold: 3, ResetTimeout: time.Minute}, clk)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	clk.Advance(time.Minute)
	require.True(t, b.CanExecute())

	// A single probe failure reopens regardless of the threshold.
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())

	clk.Advance(time.Minute)
	require.True(t, b.CanExecute(), "the new open period restarts the timeout")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clk := newFakeClock()
	b := New(Config{FailureThreshold: 2, ResetTimeout: time.Minute}, clk)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	require.Equal(t, StateClosed, b.State(), "failures must be consecutive to trip")
}

func TestRegistrySharesBreakerPerKey(t *testing.T) {
	clk := newFakeClock()
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute}, clk)

	a := r.Get("a.example")
	require.Same(t, a, r.Get("a.example"))

	a.RecordFailure()
	require.False(t, r.Get("a.example").CanExecute())
	require.True(t, r.Get("b.example").CanExecute(), "keys do not share state")
}
