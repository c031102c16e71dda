package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Emergency stop actions accepted by Control.Activate.
const (
	ActionPauseTrading = "pauseTrading"
	ActionCancelAll    = "cancelAll"
	ActionCloseAll     = "closeAll"
	ActionDisableLive  = "disableLive"
)

// ErrUnknownAction is returned when an activation names an unsupported action.
type ErrUnknownAction struct {
	Action string
}

func (e *ErrUnknownAction) Error() string {
	return fmt.Sprintf("unknown emergency stop action: %s", e.Action)
}

// ControlStatus is the wire payload for risk.status and the emergency stop
// transitions.
type ControlStatus struct {
	EmergencyStopActive bool           `json:"emergencyStopActive"`
	LastAction          *string        `json:"lastAction"`
	LastReason          *string        `json:"lastReason"`
	UpdatedAt           *string        `json:"updatedAt"`
	ActionCounts        map[string]int `json:"actionCounts"`
}

// Control is the global kill switch. While active, every live trade is
// blocked regardless of what the policy engine would decide.
type Control struct {
	mu           sync.Mutex
	active       bool
	lastAction   *string
	lastReason   *string
	updatedAt    *string
	actionCounts map[string]int
	logger       *slog.Logger
	now          func() time.Time
}

// NewControl creates an inactive emergency stop control.
func NewControl() *Control {
	return &Control{
		actionCounts: map[string]int{},
		logger:       slog.With("component", "risk_control"),
		now:          time.Now,
	}
}

// Activate engages the emergency stop with the given action and reason.
// Repeated activations are idempotent on the active flag but still bump the
// per-action counter and refresh the timestamp.
func (c *Control) Activate(action, reason string) (ControlStatus, error) {
	switch action {
	case ActionPauseTrading, ActionCancelAll, ActionCloseAll, ActionDisableLive:
	default:
		return ControlStatus{}, &ErrUnknownAction{Action: action}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = true
	c.lastAction = &action
	c.lastReason = &reason
	ts := c.now().UTC().Format(time.RFC3339)
	c.updatedAt = &ts
	c.actionCounts[action]++

	c.logger.Warn("Emergency stop activated", "action", action, "reason", reason)
	return c.statusLocked(), nil
}

// Resume clears the emergency stop. A non-empty reason replaces the recorded
// one; an empty reason leaves the last activation reason in place.
func (c *Control) Resume(reason string) ControlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = false
	if reason != "" {
		c.lastReason = &reason
	}
	ts := c.now().UTC().Format(time.RFC3339)
	c.updatedAt = &ts

	c.logger.Info("Trading resumed", "reason", reason)
	return c.statusLocked()
}

// Status returns the current control state.
func (c *Control) Status() ControlStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

// Gate screens an order about to be placed. When the emergency stop is
// active it returns a blocking decision carrying a single synthetic
// violation; otherwise it defers entirely to the policy decision.
func (c *Control) Gate(policyDecision Decision) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return policyDecision
	}

	details := map[string]any{}
	if c.lastAction != nil {
		details["action"] = *c.lastAction
	}
	if c.updatedAt != nil {
		details["updatedAt"] = *c.updatedAt
	}
	violations := append([]Violation{{
		Code:    CodeEmergencyStopActive,
		Message: "Emergency stop is active; live trading is halted.",
		Details: details,
	}}, policyDecision.Violations...)

	return Decision{Allowed: false, Violations: violations}
}

func (c *Control) statusLocked() ControlStatus {
	counts := make(map[string]int, len(c.actionCounts))
	for action, n := range c.actionCounts {
		counts[action] = n
	}
	return ControlStatus{
		EmergencyStopActive: c.active,
		LastAction:          c.lastAction,
		LastReason:          c.lastReason,
		UpdatedAt:           c.updatedAt,
		ActionCounts:        counts,
	}
}
