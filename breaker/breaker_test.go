package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances manually so window/recovery tests never sleep.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time            { return f.t }
func (f *fakeClock) advance(d time.Duration)   { f.t = f.t.Add(d) }

func newTestRegistry(clk *fakeClock) *Registry {
	return NewRegistry(WithClock(clk.now))
}

func TestOpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < DefaultMaxFailures-1; i++ {
		r.OnFailure("openai")
	}
	assert.Equal(t, StateClosed, r.State("openai"))
	require.NoError(t, r.BeforeCall("openai"))

	r.OnFailure("openai")
	assert.Equal(t, StateOpen, r.State("openai"))

	err := r.BeforeCall("openai")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpen))
}

func TestWindowPruning(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < 4; i++ {
		r.OnFailure("gemini")
	}
	// Old failures age out of the window before the fifth arrives.
	clk.advance(DefaultFailureWindow + time.Second)
	r.OnFailure("gemini")
	assert.Equal(t, StateClosed, r.State("gemini"))
}

func TestHalfOpenProbe(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < DefaultMaxFailures; i++ {
		r.OnFailure("anthropic")
	}
	require.Equal(t, StateOpen, r.State("anthropic"))

	// Still inside recovery: reject.
	clk.advance(DefaultRecoveryTimeout - time.Second)
	require.Error(t, r.BeforeCall("anthropic"))

	// Recovery elapsed: one probe allowed.
	clk.advance(2 * time.Second)
	require.NoError(t, r.BeforeCall("anthropic"))
	assert.Equal(t, StateHalfOpen, r.State("anthropic"))

	r.OnSuccess("anthropic")
	assert.Equal(t, StateClosed, r.State("anthropic"))
	assert.Equal(t, 0, r.Stats()["anthropic"].WindowedFailures)
}

func TestHalfOpenAdmitsOneProbeAtATime(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < DefaultMaxFailures; i++ {
		r.OnFailure("openai")
	}
	clk.advance(DefaultRecoveryTimeout + time.Second)

	// Only the first caller gets the probe; concurrent callers are rejected
	// until its outcome is recorded.
	require.NoError(t, r.BeforeCall("openai"))
	err := r.BeforeCall("openai")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpen))
	assert.Equal(t, StateHalfOpen, r.State("openai"))

	r.OnSuccess("openai")
	assert.NoError(t, r.BeforeCall("openai"))
	assert.NoError(t, r.BeforeCall("openai"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < DefaultMaxFailures; i++ {
		r.OnFailure("deepseek")
	}
	clk.advance(DefaultRecoveryTimeout + time.Second)
	require.NoError(t, r.BeforeCall("deepseek"))

	r.OnFailure("deepseek")
	assert.Equal(t, StateOpen, r.State("deepseek"))
	require.Error(t, r.BeforeCall("deepseek"))
}

func TestCircuitsIndependent(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < DefaultMaxFailures; i++ {
		r.OnFailure("openai")
	}
	assert.Equal(t, StateOpen, r.State("openai"))
	assert.NoError(t, r.BeforeCall("anthropic"))
}

func TestReset(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	r := newTestRegistry(clk)

	for i := 0; i < DefaultMaxFailures; i++ {
		r.OnFailure("openai")
	}
	r.Reset("openai")
	assert.Equal(t, StateClosed, r.State("openai"))
	assert.NoError(t, r.BeforeCall("openai"))
}
