package feeds

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFeeds(t *testing.T) {
	feeds := NewService().ListFeeds()
	require.Len(t, feeds, 2)

	assert.Equal(t, Feed{
		FeedID: "market.candles",
		Kind:   "market",
		Topics: []string{"market.candle.closed", "market.tick"},
	}, feeds[0])
	assert.Equal(t, Feed{
		FeedID: "trading.executions",
		Kind:   "trade",
		Topics: []string{"trade.executed", "trade.rejected"},
	}, feeds[1])
}

func TestSubscriptions(t *testing.T) {
	service := NewService()

	subscription, err := service.Subscribe([]string{TopicCandleClosed}, []string{"BTCUSD"}, []string{"5m"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(subscription.SubscriptionID, "sub_"))
	assert.Len(t, subscription.SubscriptionID, len("sub_")+10)
	assert.NotEmpty(t, subscription.CreatedAt)

	t.Run("empty topics rejected", func(t *testing.T) {
		_, err := service.Subscribe(nil, nil, nil)
		assert.Error(t, err)
	})

	t.Run("topic coverage", func(t *testing.T) {
		assert.True(t, service.SubscribedToTopic(TopicCandleClosed))
		assert.False(t, service.SubscribedToTopic(TopicTick))
	})

	t.Run("unsubscribe removes it", func(t *testing.T) {
		require.NoError(t, service.Unsubscribe(subscription.SubscriptionID))
		assert.Empty(t, service.Subscriptions())
		assert.Error(t, service.Unsubscribe(subscription.SubscriptionID))
	})
}

func TestTimeframeStep(t *testing.T) {
	tests := map[string]int64{
		"1m":   60,
		"5m":   300,
		"1h":   3600,
		"4h":   14400,
		"1d":   86400,
		"M5":   60, // unparseable falls back to one minute
		"":     60,
		"15x":  60,
		"10m ": 60,
	}
	for timeframe, want := range tests {
		assert.Equal(t, want, timeframeStep(timeframe), timeframe)
	}
}

func TestGetCandles(t *testing.T) {
	service := NewService()
	service.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	candles := service.GetCandles("BTCUSD", "5m", 4)
	require.Len(t, candles, 4)

	t.Run("timestamps step backward from now", func(t *testing.T) {
		assert.Equal(t, int64(1_700_000_000-4*300), candles[0].Ts)
		assert.Equal(t, int64(1_700_000_000-1*300), candles[3].Ts)
	})

	t.Run("alternating candle direction on a drift", func(t *testing.T) {
		// Even index: up candle.
		assert.Equal(t, 2500.0, candles[0].Open)
		assert.Equal(t, 2500.8, candles[0].Close)
		assert.Equal(t, 2501.4, candles[0].High)
		assert.Equal(t, 2499.4, candles[0].Low)

		// Odd index: down candle, drifted by 1.5.
		assert.Equal(t, 2501.5, candles[1].Open)
		assert.Equal(t, 2501.1, candles[1].Close)
		assert.Equal(t, 2502.1, candles[1].High)
		assert.Equal(t, 2500.5, candles[1].Low)
	})

	t.Run("highs and lows bracket the body", func(t *testing.T) {
		for _, candle := range candles {
			assert.GreaterOrEqual(t, candle.High, candle.Open)
			assert.GreaterOrEqual(t, candle.High, candle.Close)
			assert.LessOrEqual(t, candle.Low, candle.Open)
			assert.LessOrEqual(t, candle.Low, candle.Close)
		}
	})

	t.Run("deterministic for a fixed clock", func(t *testing.T) {
		assert.Equal(t, candles, service.GetCandles("BTCUSD", "5m", 4))
	})
}
