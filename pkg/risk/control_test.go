package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedControl(t *testing.T, ts time.Time) *Control {
	t.Helper()
	control := NewControl()
	control.now = func() time.Time { return ts }
	return control
}

func TestControl_InitialStatus(t *testing.T) {
	status := NewControl().Status()
	assert.False(t, status.EmergencyStopActive)
	assert.Nil(t, status.LastAction)
	assert.Nil(t, status.LastReason)
	assert.Nil(t, status.UpdatedAt)
	assert.Empty(t, status.ActionCounts)
}

func TestControl_ActivateResume(t *testing.T) {
	control := fixedControl(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))

	status, err := control.Activate(ActionPauseTrading, "flash crash")
	require.NoError(t, err)
	assert.True(t, status.EmergencyStopActive)
	require.NotNil(t, status.LastAction)
	assert.Equal(t, ActionPauseTrading, *status.LastAction)
	require.NotNil(t, status.LastReason)
	assert.Equal(t, "flash crash", *status.LastReason)
	require.NotNil(t, status.UpdatedAt)
	assert.Equal(t, "2026-03-01T09:30:00Z", *status.UpdatedAt)
	assert.Equal(t, map[string]int{ActionPauseTrading: 1}, status.ActionCounts)

	// Resume without a reason keeps the activation reason.
	status = control.Resume("")
	assert.False(t, status.EmergencyStopActive)
	require.NotNil(t, status.LastReason)
	assert.Equal(t, "flash crash", *status.LastReason)

	// Resume with a reason replaces it.
	status = control.Resume("market stabilized")
	assert.Equal(t, "market stabilized", *status.LastReason)
}

func TestControl_ActionCountsAccumulate(t *testing.T) {
	control := NewControl()
	_, err := control.Activate(ActionCancelAll, "a")
	require.NoError(t, err)
	_, err = control.Activate(ActionCancelAll, "b")
	require.NoError(t, err)
	_, err = control.Activate(ActionCloseAll, "c")
	require.NoError(t, err)

	status := control.Status()
	assert.Equal(t, map[string]int{ActionCancelAll: 2, ActionCloseAll: 1}, status.ActionCounts)
	assert.Equal(t, ActionCloseAll, *status.LastAction)
}

func TestControl_UnknownAction(t *testing.T) {
	_, err := NewControl().Activate("selfDestruct", "nope")
	require.Error(t, err)
	var unknownErr *ErrUnknownAction
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "selfDestruct", unknownErr.Action)
}

func TestControl_Gate(t *testing.T) {
	control := NewControl()
	clean := Decision{Allowed: true, Violations: []Violation{}}

	t.Run("inactive passes policy decision through", func(t *testing.T) {
		assert.Equal(t, clean, control.Gate(clean))
	})

	t.Run("active blocks with synthetic violation first", func(t *testing.T) {
		_, err := control.Activate(ActionDisableLive, "maintenance")
		require.NoError(t, err)

		policyBlocked := Decision{Allowed: false, Violations: []Violation{{Code: CodeMaxVolumeExceeded, Message: "x"}}}
		gated := control.Gate(policyBlocked)

		assert.False(t, gated.Allowed)
		require.Len(t, gated.Violations, 2)
		assert.Equal(t, CodeEmergencyStopActive, gated.Violations[0].Code)
		assert.Equal(t, ActionDisableLive, gated.Violations[0].Details["action"])
		assert.NotEmpty(t, gated.Violations[0].Details["updatedAt"])
		assert.Equal(t, CodeMaxVolumeExceeded, gated.Violations[1].Code)
	})

	t.Run("resume restores pass-through", func(t *testing.T) {
		control.Resume("done")
		assert.Equal(t, clean, control.Gate(clean))
	})
}
