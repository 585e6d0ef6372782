package statemachine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHappyPath(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(now)

	steps := []State{Validated, Submitted, Acknowledged, PartiallyFilled, PartiallyFilled, Filled}
	for i, to := range steps {
		now = now.Add(time.Second)
		require.NoError(t, m.Transition(to, now, "step", nil), "step %d", i)
	}

	assert.Equal(t, Filled, m.State())
	assert.True(t, m.IsTerminal())
	assert.False(t, m.CanCancel())
	// 6 transitions recorded, including the same-state PartiallyFilled->PartiallyFilled
	assert.Len(t, m.History(), 6)
}

func TestCreatedToFilledRejected(t *testing.T) {
	t.Parallel()
	m := New(time.Now())
	err := m.Transition(Filled, time.Now(), "", nil)
	require.Error(t, err)
	var invalidErr *InvalidTransitionError
	require.True(t, errors.As(err, &invalidErr))
	assert.Equal(t, Created, invalidErr.From)
	assert.Equal(t, Filled, invalidErr.To)
	assert.Equal(t, Created, m.State(), "state must not change on a rejected transition")
}

func TestTerminalStateRejectsFurtherTransitions(t *testing.T) {
	t.Parallel()
	m := New(time.Now())
	require.NoError(t, m.Transition(Validated, time.Now(), "", nil))
	require.NoError(t, m.Transition(Cancelled, time.Now(), "", nil))

	err := m.Transition(Cancelled, time.Now(), "", nil)
	require.Error(t, err)
	assert.False(t, m.CanTransition(Submitted))
}

func TestHistoryIsAppendOnlyCopy(t *testing.T) {
	t.Parallel()
	m := New(time.Now())
	require.NoError(t, m.Transition(Validated, time.Now(), "", nil))

	h := m.History()
	h[0].Reason = "mutated"

	again := m.History()
	assert.NotEqual(t, "mutated", again[0].Reason)
}

func TestTimeInStateAndLifetime(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(start)
	require.NoError(t, m.Transition(Validated, start.Add(5*time.Second), "", nil))

	now := start.Add(20 * time.Second)
	assert.Equal(t, 15*time.Second, m.TimeInState(now))
	assert.Equal(t, 20*time.Second, m.Lifetime(now))
}

func TestAllowedTransitionTable(t *testing.T) {
	t.Parallel()
	cases := []struct {
		from State
		to   State
		ok   bool
	}{
		{Created, Validated, true},
		{Created, Rejected, true},
		{Created, Submitted, false},
		{Validated, Submitted, true},
		{Validated, Acknowledged, false},
		{Submitted, Expired, true},
		{Acknowledged, PartiallyFilled, true},
		{PartiallyFilled, Acknowledged, false},
		{PartiallyFilled, Filled, true},
	}
	for _, c := range cases {
		m := New(time.Now())
		if c.from != Created {
			// drive to the `from` state via a valid path where possible
			switch c.from {
			case Validated:
				require.NoError(t, m.Transition(Validated, time.Now(), "", nil))
			case Submitted:
				require.NoError(t, m.Transition(Validated, time.Now(), "", nil))
				require.NoError(t, m.Transition(Submitted, time.Now(), "", nil))
			case Acknowledged:
				require.NoError(t, m.Transition(Validated, time.Now(), "", nil))
				require.NoError(t, m.Transition(Submitted, time.Now(), "", nil))
				require.NoError(t, m.Transition(Acknowledged, time.Now(), "", nil))
			case PartiallyFilled:
				require.NoError(t, m.Transition(Validated, time.Now(), "", nil))
				require.NoError(t, m.Transition(Submitted, time.Now(), "", nil))
				require.NoError(t, m.Transition(Acknowledged, time.Now(), "", nil))
				require.NoError(t, m.Transition(PartiallyFilled, time.Now(), "", nil))
			}
		}
		err := m.CanTransition(c.to)
		assert.Equal(t, c.ok, err, "from=%s to=%s", c.from, c.to)
	}
}
