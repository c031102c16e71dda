package feeds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mt5trader/gateway/pkg/hooks"
)

func newTestPipeline(t *testing.T, state StateProvider) (*Pipeline, *hooks.Registry) {
	t.Helper()
	registry := hooks.NewRegistry()
	evaluator, err := hooks.NewEvaluator()
	require.NoError(t, err)
	return NewPipeline(registry, evaluator, state), registry
}

func candleEvent() Event {
	return Event{
		EventID: "evt-1",
		Topic:   TopicCandleClosed,
		Ts:      1700000000,
		Fields:  map[string]any{"symbol": "BTCUSD", "close": 51000.0},
	}
}

func TestProcess_WakeHook(t *testing.T) {
	pipeline, registry := newTestPipeline(t, nil)
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:   "h1",
		AgentID:  "a1",
		HookType: hooks.TypeWake,
		Topics:   []string{TopicCandleClosed},
		Expression: `double(event.close) > 50000.0
			? {"decision": "WAKE", "reason": "breakout", "dedupeKey": "wake:breakout"}
			: {"decision": "SKIP"}`,
	}))

	result := pipeline.Process(context.Background(), candleEvent())
	require.Len(t, result.Requests, 1)
	assert.Empty(t, result.Intents)
	assert.Empty(t, result.Errors)

	request := result.Requests[0]
	assert.Equal(t, "ar_evt-1_h1", request.RequestID)
	assert.Equal(t, "a1", request.AgentID)
	assert.Equal(t, "hook_trigger", request.Kind)
	assert.Equal(t, "wake:breakout", request.DedupeKey)
	assert.Equal(t, map[string]any{
		"reason":         "breakout",
		"triggerEventId": "evt-1",
		"triggerTopic":   TopicCandleClosed,
		"triggerTs":      int64(1700000000),
	}, request.Payload)
}

func TestProcess_SkipDecision(t *testing.T) {
	pipeline, registry := newTestPipeline(t, nil)
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:     "h1",
		AgentID:    "a1",
		HookType:   hooks.TypeWake,
		Topics:     []string{TopicCandleClosed},
		Expression: `{"decision": "SKIP"}`,
	}))

	result := pipeline.Process(context.Background(), candleEvent())
	assert.Empty(t, result.Requests)
	assert.Empty(t, result.Errors)
}

func TestProcess_TradeIntentHook(t *testing.T) {
	pipeline, registry := newTestPipeline(t, nil)
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:   "h1",
		AgentID:  "a1",
		HookType: hooks.TypeAutotrade,
		Topics:   []string{TopicCandleClosed},
		Expression: `{"decision": "TRADE_INTENT", "intent": {
			"symbol": string(event.symbol), "side": "buy", "volume": 0.1}}`,
	}))

	result := pipeline.Process(context.Background(), candleEvent())
	require.Len(t, result.Intents, 1)
	assert.Equal(t, "h1", result.Intents[0].HookID)
	assert.Equal(t, "buy", result.Intents[0].Intent["side"])
	assert.Equal(t, "BTCUSD", result.Intents[0].Intent["symbol"])
}

func TestProcess_DecisionMustMatchHookType(t *testing.T) {
	pipeline, registry := newTestPipeline(t, nil)
	// A wake hook returning TRADE_INTENT produces nothing, and vice versa.
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:     "h1",
		AgentID:    "a1",
		HookType:   hooks.TypeWake,
		Topics:     []string{TopicCandleClosed},
		Expression: `{"decision": "TRADE_INTENT"}`,
	}))
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:     "h2",
		AgentID:    "a1",
		HookType:   hooks.TypeAutotrade,
		Topics:     []string{TopicCandleClosed},
		Expression: `{"decision": "WAKE"}`,
	}))

	result := pipeline.Process(context.Background(), candleEvent())
	assert.Empty(t, result.Requests)
	assert.Empty(t, result.Intents)
}

func TestProcess_BrokenHookIsIsolated(t *testing.T) {
	pipeline, registry := newTestPipeline(t, nil)
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:     "h1",
		AgentID:    "a1",
		HookType:   hooks.TypeWake,
		Topics:     []string{TopicCandleClosed},
		Expression: `event.does.not ==`,
	}))
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:     "h2",
		AgentID:    "a2",
		HookType:   hooks.TypeWake,
		Topics:     []string{TopicCandleClosed},
		Expression: `{"decision": "WAKE", "reason": "still running"}`,
	}))

	result := pipeline.Process(context.Background(), candleEvent())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "h1", result.Errors[0].HookID)
	assert.Equal(t, "a1", result.Errors[0].AgentID)
	assert.NotEmpty(t, result.Errors[0].Error)

	require.Len(t, result.Requests, 1)
	assert.Equal(t, "ar_evt-1_h2", result.Requests[0].RequestID)
}

func TestProcess_StateProvider(t *testing.T) {
	state := func(agentID string) map[string]any {
		return map[string]any{"status": "busy", "agentId": agentID}
	}
	pipeline, registry := newTestPipeline(t, state)
	require.NoError(t, registry.Register(hooks.Registration{
		HookID:     "h1",
		AgentID:    "a1",
		HookType:   hooks.TypeWake,
		Topics:     []string{TopicCandleClosed},
		Expression: `state.status == "busy" ? {"decision": "SKIP"} : {"decision": "WAKE"}`,
	}))

	result := pipeline.Process(context.Background(), candleEvent())
	assert.Empty(t, result.Requests)
}
