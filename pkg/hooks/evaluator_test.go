package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_WakeDecision(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	expression := `event.topic == "market.candle.closed" && double(event.close) > 50000.0
		? {"decision": "WAKE", "reason": "BTC above 50k"}
		: {"decision": "SKIP"}`

	result, err := evaluator.Evaluate(context.Background(), expression,
		map[string]any{"topic": "market.candle.closed", "close": 51000.0},
		map[string]any{"status": "idle"},
	)
	require.NoError(t, err)
	assert.Equal(t, DecisionWake, result["decision"])
	assert.Equal(t, "BTC above 50k", result["reason"])

	result, err = evaluator.Evaluate(context.Background(), expression,
		map[string]any{"topic": "market.candle.closed", "close": 49000.0},
		map[string]any{},
	)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, result["decision"])
}

func TestEvaluate_StateInScope(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	result, err := evaluator.Evaluate(context.Background(),
		`state.status == "idle" ? {"decision": "WAKE"} : {"decision": "SKIP"}`,
		map[string]any{},
		map[string]any{"status": "busy"},
	)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, result["decision"])
}

func TestEvaluate_CompileErrorSurfaces(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	_, err = evaluator.Evaluate(context.Background(), `event.topic ==`, map[string]any{}, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compiling")
}

func TestEvaluate_NonMapResultRejected(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	_, err = evaluator.Evaluate(context.Background(), `42`, map[string]any{}, map[string]any{})
	assert.Error(t, err)
}

func TestEvaluate_NestedValuesAreNative(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	result, err := evaluator.Evaluate(context.Background(),
		`{"decision": "TRADE_INTENT", "intent": {"symbol": "BTCUSD", "volume": 0.5}, "tags": ["a", "b"]}`,
		map[string]any{}, map[string]any{})
	require.NoError(t, err)

	intent, ok := result["intent"].(map[string]any)
	require.True(t, ok, "nested maps must come back as map[string]any, got %T", result["intent"])
	assert.Equal(t, "BTCUSD", intent["symbol"])
	assert.Equal(t, 0.5, intent["volume"])

	tags, ok := result["tags"].([]any)
	require.True(t, ok, "nested lists must come back as []any, got %T", result["tags"])
	assert.Equal(t, []any{"a", "b"}, tags)
}

func TestEvaluate_ProgramCacheReused(t *testing.T) {
	evaluator, err := NewEvaluator()
	require.NoError(t, err)

	expression := `{"decision": "SKIP"}`
	_, err = evaluator.Evaluate(context.Background(), expression, map[string]any{}, map[string]any{})
	require.NoError(t, err)
	require.Len(t, evaluator.cache, 1)

	_, err = evaluator.Evaluate(context.Background(), expression, map[string]any{}, map[string]any{})
	require.NoError(t, err)
	assert.Len(t, evaluator.cache, 1)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(Registration{
		HookID:   "h2",
		AgentID:  "a1",
		HookType: TypeWake,
		Topics:   []string{"market.candle.closed"},
	}))
	require.NoError(t, registry.Register(Registration{
		HookID:   "h1",
		AgentID:  "a1",
		HookType: TypeAutotrade,
		Topics:   []string{"market.candle.closed", "market.tick"},
	}))

	t.Run("invalid registrations rejected", func(t *testing.T) {
		assert.Error(t, registry.Register(Registration{HookID: "h3", HookType: "explode"}))
		assert.Error(t, registry.Register(Registration{HookType: TypeWake}))
	})

	t.Run("topic match is exact and ordered by hook id", func(t *testing.T) {
		matched := registry.ForTopic("market.candle.closed")
		require.Len(t, matched, 2)
		assert.Equal(t, "h1", matched[0].HookID)
		assert.Equal(t, "h2", matched[1].HookID)

		assert.Len(t, registry.ForTopic("market.tick"), 1)
		assert.Empty(t, registry.ForTopic("trade.executed"))
	})

	t.Run("unregister removes the hook", func(t *testing.T) {
		registry.Unregister("h1")
		assert.Len(t, registry.List(), 1)
		registry.Unregister("ghost")
		assert.Len(t, registry.List(), 1)
	})
}
