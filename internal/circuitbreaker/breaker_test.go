package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClock is advanced by hand so open-timeout behavior is testable
// without sleeping.
type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New(cfg)
	clk := newFakeClock()
	b.now = clk.Now
	return b, clk
}

func TestNew_AppliesDefaults(t *testing.T) {
	b := New(Config{})

	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 2, b.cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.OpenTimeout)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailureStreakOpens(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	require.NoError(t, b.Allow(), "below threshold the breaker stays closed")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_SuccessBreaksTheStreak(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	require.NoError(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ProbeExactlyAtDeadline(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: 30 * time.Second})

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	clk.Advance(29 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "one second early is still open")

	clk.Advance(time.Second)
	require.NoError(t, b.Allow(), "the deadline itself admits a probe")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_RecoveryClosesAfterEnoughProbes(t *testing.T) {
	b, clk := newTestBreaker(Config{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
	})

	b.RecordFailure()
	b.RecordFailure()
	clk.Advance(10 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State(), "one probe is not enough")

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())

	// Closing wiped the streak, so one new failure is below threshold.
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ProbeFailureReopensWithFreshDeadline(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: 10 * time.Second})

	b.RecordFailure()
	clk.Advance(10 * time.Second)
	require.NoError(t, b.Allow())

	b.RecordFailure()
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "a failed probe reopens immediately")

	// The reopen deadline counts from the probe failure, not the first one.
	clk.Advance(9 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
	clk.Advance(time.Second)
	require.NoError(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_TransitionCallbackSequence(t *testing.T) {
	type hop struct{ from, to State }
	var seen []hop

	b, clk := newTestBreaker(Config{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		OpenTimeout:      5 * time.Second,
	})
	b.cfg.OnStateChange = func(from, to State) { seen = append(seen, hop{from, to}) }

	b.RecordFailure()
	b.RecordFailure()
	clk.Advance(5 * time.Second)
	require.NoError(t, b.Allow())
	b.RecordSuccess()

	require.Equal(t, []hop{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, seen)
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestBreaker_ParallelCallersKeepInvariants(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 10, SuccessThreshold: 5})

	var g errgroup.Group
	for _, op := range []func(){
		func() { b.RecordSuccess() },
		func() { b.RecordFailure() },
		func() { _ = b.Allow() },
		func() { _ = b.State() },
	} {
		op := op
		for i := 0; i < 4; i++ {
			g.Go(func() error {
				for j := 0; j < 500; j++ {
					op()
				}
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())

	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, b.State())
}
