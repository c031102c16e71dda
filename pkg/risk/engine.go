// Package risk implements pre-trade policy evaluation and the emergency
// stop control used to halt all live trading.
package risk

import "math"

// Violation codes produced by policy evaluation.
const (
	CodeSymbolNotAllowed       = "SYMBOL_NOT_ALLOWED"
	CodeMaxVolumeExceeded      = "MAX_VOLUME_EXCEEDED"
	CodeMaxConcurrentPositions = "MAX_CONCURRENT_POSITIONS"
	CodeMaxDailyLoss           = "MAX_DAILY_LOSS"
	CodeStopLossRequired       = "STOP_LOSS_REQUIRED"
	CodeEmergencyStopActive    = "EMERGENCY_STOP_ACTIVE"
)

// Policy is the per-evaluation risk configuration.
type Policy struct {
	AllowedSymbols         []string `json:"allowedSymbols"`
	MaxVolume              float64  `json:"maxVolume"`
	MaxConcurrentPositions int      `json:"maxConcurrentPositions"`
	MaxDailyLoss           float64  `json:"maxDailyLoss"`
	RequireStopLoss        bool     `json:"requireStopLoss"`
}

// OrderRequest is the order being screened.
type OrderRequest struct {
	Symbol   string   `json:"symbol"`
	Side     string   `json:"side"`
	Volume   float64  `json:"volume"`
	StopLoss *float64 `json:"stopLoss,omitempty"`
}

// AccountState is the account snapshot the policy is evaluated against.
type AccountState struct {
	OpenPositions int     `json:"openPositions"`
	DailyPnl      float64 `json:"dailyPnl"`
}

// Violation is a single policy breach. A decision may carry several.
type Violation struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Decision is the outcome of evaluating an order against a policy.
// Allowed is true exactly when Violations is empty.
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations"`
}

// Engine evaluates orders against risk policies. It is stateless; all inputs
// arrive per call so evaluations are independent and order-insensitive.
type Engine struct{}

// NewEngine creates a risk engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs every policy check against the order and account state.
// Checks are independent: one failure never short-circuits the rest, so the
// decision reports the complete set of violations.
func (e *Engine) Evaluate(order OrderRequest, policy Policy, state AccountState) Decision {
	violations := []Violation{}

	if !symbolAllowed(order.Symbol, policy.AllowedSymbols) {
		violations = append(violations, Violation{
			Code:    CodeSymbolNotAllowed,
			Message: "Symbol is not in the allowlist.",
			Details: map[string]any{"symbol": order.Symbol},
		})
	}

	if order.Volume > policy.MaxVolume {
		violations = append(violations, Violation{
			Code:    CodeMaxVolumeExceeded,
			Message: "Requested volume exceeds max_volume policy.",
			Details: map[string]any{"volume": order.Volume, "maxVolume": policy.MaxVolume},
		})
	}

	if state.OpenPositions >= policy.MaxConcurrentPositions {
		violations = append(violations, Violation{
			Code:    CodeMaxConcurrentPositions,
			Message: "Max concurrent positions reached.",
			Details: map[string]any{
				"openPositions":          state.OpenPositions,
				"maxConcurrentPositions": policy.MaxConcurrentPositions,
			},
		})
	}

	// Only realized losses count: a positive daily PnL never trips the limit.
	if math.Abs(math.Min(state.DailyPnl, 0)) >= policy.MaxDailyLoss {
		violations = append(violations, Violation{
			Code:    CodeMaxDailyLoss,
			Message: "Daily loss limit reached.",
			Details: map[string]any{"dailyPnl": state.DailyPnl, "maxDailyLoss": policy.MaxDailyLoss},
		})
	}

	if policy.RequireStopLoss && order.StopLoss == nil {
		violations = append(violations, Violation{
			Code:    CodeStopLossRequired,
			Message: "Stop loss is required by policy.",
		})
	}

	return Decision{
		Allowed:    len(violations) == 0,
		Violations: violations,
	}
}

func symbolAllowed(symbol string, allowlist []string) bool {
	for _, allowed := range allowlist {
		if allowed == symbol {
			return true
		}
	}
	return false
}
