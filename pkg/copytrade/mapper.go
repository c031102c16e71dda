// Package copytrade maps external strategy signals onto local order intents.
//
// Incoming signals pass through a filter chain (dedupe, action, symbol
// allowlist, direction filter, staleness) and surviving signals become
// market order intents with the follower's volume cap applied.
package copytrade

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// Blocked reasons reported when a signal fails the filter chain.
const (
	BlockUnsupportedAction = "UNSUPPORTED_ACTION"
	BlockSymbolNotAllowed  = "SYMBOL_NOT_ALLOWED"
	BlockDirectionFilter   = "DIRECTION_FILTER_BLOCK"
	BlockSignalStale       = "SIGNAL_STALE"
)

// Direction filters.
const (
	DirectionLongOnly  = "long-only"
	DirectionShortOnly = "short-only"
)

// Signal is an external strategy signal to be mirrored. Ts is the provider's
// emission time, RFC 3339 on the wire.
type Signal struct {
	SignalID   string    `json:"signalId"`
	StrategyID string    `json:"strategyId"`
	Ts         time.Time `json:"ts"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Action     string    `json:"action"`
	Side       string    `json:"side"`
	Volume     float64   `json:"volume"`
	Entry      float64   `json:"entry"`
	StopLoss   *float64  `json:"stopLoss,omitempty"`
	TakeProfit *float64  `json:"takeProfit,omitempty"`
}

// Settings configures how signals map onto a follower account.
type Settings struct {
	AccountID           string   `json:"accountId"`
	AllowedSymbols      []string `json:"allowedSymbols"`
	DirectionFilter     string   `json:"directionFilter,omitempty"`
	MaxVolume           float64  `json:"maxVolume"`
	MaxSignalAgeSeconds int64    `json:"maxSignalAgeSeconds"`
}

// Intent is a local market order derived from a mapped signal.
type Intent struct {
	AccountID  string   `json:"accountId"`
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Side       string   `json:"side"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

// MapResult is the outcome of mapping one signal: an intent, a blocked
// reason, or the dedupe flag when the signal id was already mirrored.
type MapResult struct {
	Intent        *Intent `json:"intent"`
	BlockedReason string  `json:"blockedReason,omitempty"`
	Deduped       bool    `json:"deduped,omitempty"`
}

// Mapped reports whether the signal produced an order intent.
func (r MapResult) Mapped() bool { return r.Intent != nil }

// Mapper applies the filter chain and remembers processed signal ids so a
// redelivered signal is never mirrored twice.
type Mapper struct {
	mu        sync.Mutex
	processed map[string]bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewMapper creates a mapper with an empty dedupe set.
func NewMapper() *Mapper {
	return &Mapper{
		processed: map[string]bool{},
		logger:    slog.With("component", "copytrade_mapper"),
		now:       time.Now,
	}
}

// MapSignal runs the filter chain over one signal. Filters apply in order;
// the first rejection wins and only fully mapped signals are recorded as
// processed.
func (m *Mapper) MapSignal(signal Signal, settings Settings) MapResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed[signal.SignalID] {
		return MapResult{Deduped: true}
	}
	if signal.Action != "OPEN" {
		return MapResult{BlockedReason: BlockUnsupportedAction}
	}
	if !contains(settings.AllowedSymbols, signal.Symbol) {
		return MapResult{BlockedReason: BlockSymbolNotAllowed}
	}
	if settings.DirectionFilter == DirectionLongOnly && signal.Side != "buy" {
		return MapResult{BlockedReason: BlockDirectionFilter}
	}
	if settings.DirectionFilter == DirectionShortOnly && signal.Side != "sell" {
		return MapResult{BlockedReason: BlockDirectionFilter}
	}
	if m.now().Sub(signal.Ts) > time.Duration(settings.MaxSignalAgeSeconds)*time.Second {
		return MapResult{BlockedReason: BlockSignalStale}
	}

	m.processed[signal.SignalID] = true
	m.logger.Info("Signal mapped", "signal_id", signal.SignalID, "symbol", signal.Symbol)
	return MapResult{
		Intent: &Intent{
			AccountID:  settings.AccountID,
			Symbol:     signal.Symbol,
			Action:     "PLACE_MARKET_ORDER",
			Side:       signal.Side,
			Volume:     math.Min(signal.Volume, settings.MaxVolume),
			StopLoss:   signal.StopLoss,
			TakeProfit: signal.TakeProfit,
		},
	}
}

func contains(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}
