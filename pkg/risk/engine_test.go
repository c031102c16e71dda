package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func basePolicy() Policy {
	return Policy{
		AllowedSymbols:         []string{"BTCUSD", "EURUSD"},
		MaxVolume:              2.0,
		MaxConcurrentPositions: 5,
		MaxDailyLoss:           500,
		RequireStopLoss:        false,
	}
}

func TestEvaluate(t *testing.T) {
	engine := NewEngine()
	sl := 49000.0

	tests := []struct {
		name      string
		order     OrderRequest
		policy    Policy
		state     AccountState
		wantCodes []string
	}{
		{
			name:      "clean order passes",
			order:     OrderRequest{Symbol: "BTCUSD", Side: "buy", Volume: 1.0, StopLoss: &sl},
			policy:    basePolicy(),
			state:     AccountState{OpenPositions: 1, DailyPnl: 100},
			wantCodes: []string{},
		},
		{
			name:      "symbol not in allowlist",
			order:     OrderRequest{Symbol: "XAUUSD", Side: "buy", Volume: 1.0},
			policy:    basePolicy(),
			state:     AccountState{},
			wantCodes: []string{CodeSymbolNotAllowed},
		},
		{
			name:      "volume over limit",
			order:     OrderRequest{Symbol: "BTCUSD", Side: "buy", Volume: 2.5},
			policy:    basePolicy(),
			state:     AccountState{},
			wantCodes: []string{CodeMaxVolumeExceeded},
		},
		{
			name:      "volume exactly at limit passes",
			order:     OrderRequest{Symbol: "BTCUSD", Side: "buy", Volume: 2.0},
			policy:    basePolicy(),
			state:     AccountState{},
			wantCodes: []string{},
		},
		{
			name:      "concurrent positions at cap",
			order:     OrderRequest{Symbol: "BTCUSD", Side: "buy", Volume: 1.0},
			policy:    basePolicy(),
			state:     AccountState{OpenPositions: 5},
			wantCodes: []string{CodeMaxConcurrentPositions},
		},
		{
			name:      "daily loss at limit",
			order:     OrderRequest{Symbol: "BTCUSD", Side: "buy", Volume: 1.0},
			policy:    basePolicy(),
			state:     AccountState{DailyPnl: -500},
			wantCodes: []string{CodeMaxDailyLoss},
		},
		{
			name:      "positive daily pnl never trips the loss limit",
			order:     OrderRequest{Symbol: "BTCUSD", Side: "buy", Volume: 1.0},
			policy:    Policy{AllowedSymbols: []string{"BTCUSD"}, MaxVolume: 2, MaxConcurrentPositions: 5, MaxDailyLoss: 0.01},
			state:     AccountState{DailyPnl: 900},
			wantCodes: []string{},
		},
		{
			name: "stop loss required but missing",
			order: OrderRequest{
				Symbol: "BTCUSD", Side: "buy", Volume: 1.0,
			},
			policy: func() Policy {
				p := basePolicy()
				p.RequireStopLoss = true
				return p
			}(),
			state:     AccountState{},
			wantCodes: []string{CodeStopLossRequired},
		},
		{
			name:   "multiple independent violations accumulate",
			order:  OrderRequest{Symbol: "XAUUSD", Side: "sell", Volume: 9.9},
			policy: basePolicy(),
			state:  AccountState{OpenPositions: 7, DailyPnl: -800},
			wantCodes: []string{
				CodeSymbolNotAllowed,
				CodeMaxVolumeExceeded,
				CodeMaxConcurrentPositions,
				CodeMaxDailyLoss,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := engine.Evaluate(tt.order, tt.policy, tt.state)

			codes := make([]string, 0, len(decision.Violations))
			for _, v := range decision.Violations {
				codes = append(codes, v.Code)
			}
			assert.ElementsMatch(t, tt.wantCodes, codes)
			assert.Equal(t, len(tt.wantCodes) == 0, decision.Allowed)
		})
	}
}

func TestEvaluate_ViolationDetails(t *testing.T) {
	engine := NewEngine()
	decision := engine.Evaluate(
		OrderRequest{Symbol: "XAUUSD", Side: "buy", Volume: 3.0},
		basePolicy(),
		AccountState{},
	)

	require.False(t, decision.Allowed)
	byCode := map[string]Violation{}
	for _, v := range decision.Violations {
		byCode[v.Code] = v
	}

	assert.Equal(t, map[string]any{"symbol": "XAUUSD"}, byCode[CodeSymbolNotAllowed].Details)
	assert.Equal(t, map[string]any{"volume": 3.0, "maxVolume": 2.0}, byCode[CodeMaxVolumeExceeded].Details)
}

func TestEvaluate_StopLossRequiredHasNoDetails(t *testing.T) {
	engine := NewEngine()
	policy := basePolicy()
	policy.RequireStopLoss = true

	decision := engine.Evaluate(OrderRequest{Symbol: "BTCUSD", Volume: 1}, policy, AccountState{})
	require.Len(t, decision.Violations, 1)
	assert.Nil(t, decision.Violations[0].Details)
}
