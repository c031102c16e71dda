// Package feeds exposes the gateway's event feeds: the feed catalog,
// client subscriptions, candle history, and the hook pipeline that turns
// feed events into agent work.
package feeds

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/mt5trader/gateway/pkg/backtest"
)

// Feed topics.
const (
	TopicCandleClosed  = "market.candle.closed"
	TopicTick          = "market.tick"
	TopicTradeExecuted = "trade.executed"
	TopicTradeRejected = "trade.rejected"
)

// Feed is one entry of the feed catalog.
type Feed struct {
	FeedID string   `json:"feedId"`
	Kind   string   `json:"kind"`
	Topics []string `json:"topics"`
}

// Subscription is one client's topic subscription.
type Subscription struct {
	SubscriptionID string   `json:"subscriptionId"`
	Topics         []string `json:"topics"`
	Symbols        []string `json:"symbols,omitempty"`
	Timeframes     []string `json:"timeframes,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

// Service manages the feed catalog and subscriptions.
type Service struct {
	mu            sync.Mutex
	subscriptions map[string]Subscription
	logger        *slog.Logger
	now           func() time.Time
}

// NewService creates a feed service with no subscriptions.
func NewService() *Service {
	return &Service{
		subscriptions: map[string]Subscription{},
		logger:        slog.With("component", "feeds"),
		now:           time.Now,
	}
}

// ListFeeds returns the feed catalog. The catalog is fixed: the gateway
// publishes market data and trade lifecycle feeds.
func (s *Service) ListFeeds() []Feed {
	return []Feed{
		{
			FeedID: "market.candles",
			Kind:   "market",
			Topics: []string{TopicCandleClosed, TopicTick},
		},
		{
			FeedID: "trading.executions",
			Kind:   "trade",
			Topics: []string{TopicTradeExecuted, TopicTradeRejected},
		},
	}
}

// Subscribe registers a subscription and returns it with a fresh id.
func (s *Service) Subscribe(topics, symbols, timeframes []string) (Subscription, error) {
	if len(topics) == 0 {
		return Subscription{}, fmt.Errorf("subscription requires at least one topic")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	subscription := Subscription{
		SubscriptionID: newSubscriptionID(),
		Topics:         topics,
		Symbols:        symbols,
		Timeframes:     timeframes,
		CreatedAt:      s.now().UTC().Format(time.RFC3339),
	}
	s.subscriptions[subscription.SubscriptionID] = subscription
	s.logger.Info("Feed subscription created", "subscription_id", subscription.SubscriptionID, "topics", topics)
	return subscription, nil
}

// Unsubscribe removes a subscription.
func (s *Service) Unsubscribe(subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[subscriptionID]; !ok {
		return fmt.Errorf("unknown subscription: %s", subscriptionID)
	}
	delete(s.subscriptions, subscriptionID)
	s.logger.Info("Feed subscription removed", "subscription_id", subscriptionID)
	return nil
}

// Subscriptions returns the active subscriptions ordered by id.
func (s *Service) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriptions := make([]Subscription, 0, len(s.subscriptions))
	for _, subscription := range s.subscriptions {
		subscriptions = append(subscriptions, subscription)
	}
	sort.Slice(subscriptions, func(i, j int) bool {
		return subscriptions[i].SubscriptionID < subscriptions[j].SubscriptionID
	})
	return subscriptions
}

// SubscribedToTopic reports whether any subscription covers the topic.
func (s *Service) SubscribedToTopic(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subscription := range s.subscriptions {
		for _, t := range subscription.Topics {
			if t == topic {
				return true
			}
		}
	}
	return false
}

var timeframePattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// timeframeStep parses a timeframe like "5m", "1h", or "1d" into a step in
// seconds. Unparseable timeframes fall back to one minute.
func timeframeStep(timeframe string) int64 {
	match := timeframePattern.FindStringSubmatch(timeframe)
	if match == nil {
		return 60
	}
	var n int64
	fmt.Sscanf(match[1], "%d", &n)
	switch match[2] {
	case "m":
		return n * 60
	case "h":
		return n * 3600
	default:
		return n * 86400
	}
}

// GetCandles returns a synthetic candle series for the symbol and timeframe.
// The series is deterministic apart from its anchor at the current time: a
// gentle upward drift with alternating candle directions, which gives
// strategies and backtests realistic-looking structure to chew on.
func (s *Service) GetCandles(symbol, timeframe string, limit int) []backtest.Candle {
	step := timeframeStep(timeframe)
	now := s.now().Unix()

	candles := make([]backtest.Candle, limit)
	for i := 0; i < limit; i++ {
		base := 2500.0
		drift := float64(i) * 1.5
		open := base + drift
		delta := -0.4
		if i%2 == 0 {
			delta = 0.8
		}
		close := open + delta
		high := math.Max(open, close) + 0.6
		low := math.Min(open, close) - 0.6

		candles[i] = backtest.Candle{
			Ts:    now - int64(limit-i)*step,
			Open:  round5(open),
			High:  round5(high),
			Low:   round5(low),
			Close: round5(close),
		}
	}
	return candles
}

func round5(v float64) float64 {
	return math.Round(v*100000) / 100000
}

func newSubscriptionID() string {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("subscription id generation failed: %v", err))
	}
	return "sub_" + hex.EncodeToString(buf)
}
