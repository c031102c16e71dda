// Package backtest runs deterministic strategy simulations over candle
// series. The engine is pure: given the same candles and strategy it always
// produces the same trades, equity curve, and metrics.
package backtest

import (
	"errors"
	"math"
)

// StartingEquity is the nominal account equity every simulation starts from.
const StartingEquity = 1000.0

// Trade outcomes.
const (
	OutcomeWin  = "win"
	OutcomeLoss = "loss"
	OutcomeFlat = "flat"
)

// ErrNotEnoughCandles is returned when a simulation has fewer than two candles.
var ErrNotEnoughCandles = errors.New("backtest requires at least 2 candles")

// Candle is one OHLC bar.
type Candle struct {
	Ts    int64   `json:"ts"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Signal is a strategy's instruction to open a position at candle i.
type Signal struct {
	Side       string  `json:"side"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

// Strategy inspects the series at index i and optionally emits a signal.
// Returning nil means no trade at this candle.
type Strategy func(i int, candles []Candle) *Signal

// Trade is one simulated round trip.
type Trade struct {
	Side       string  `json:"side"`
	EntryTs    int64   `json:"entryTs"`
	EntryPrice float64 `json:"entryPrice"`
	ExitTs     int64   `json:"exitTs"`
	ExitPrice  float64 `json:"exitPrice"`
	Pnl        float64 `json:"pnl"`
	Outcome    string  `json:"outcome"`
}

// Metrics summarizes a simulation. Percentages and the profit factor are
// rounded to 4 decimal places.
type Metrics struct {
	TotalReturnPct float64 `json:"totalReturnPct"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
	WinRatePct     float64 `json:"winRatePct"`
	ProfitFactor   float64 `json:"profitFactor"`
	Trades         int     `json:"trades"`
}

// Result is the full output of one simulation.
type Result struct {
	Trades      []Trade   `json:"trades"`
	Metrics     Metrics   `json:"metrics"`
	EquityCurve []float64 `json:"equityCurve"`
}

// Run simulates the strategy over the candle series. For every signal the
// position is held until its stop loss or take profit is touched by a later
// candle, or force-closed at the final candle's close.
func Run(candles []Candle, strategy Strategy) (*Result, error) {
	if len(candles) < 2 {
		return nil, ErrNotEnoughCandles
	}

	equity := StartingEquity
	equityCurve := []float64{StartingEquity}
	trades := []Trade{}

	for i := range candles {
		signal := strategy(i, candles)
		if signal == nil {
			continue
		}

		exitPrice, exitTs := resolveExit(signal, candles[i+1:], candles[len(candles)-1])
		var pnl float64
		if signal.Side == "buy" {
			pnl = exitPrice - signal.Entry
		} else {
			pnl = signal.Entry - exitPrice
		}

		outcome := OutcomeFlat
		switch {
		case pnl > 0:
			outcome = OutcomeWin
		case pnl < 0:
			outcome = OutcomeLoss
		}

		equity += pnl
		equityCurve = append(equityCurve, equity)
		trades = append(trades, Trade{
			Side:       signal.Side,
			EntryTs:    candles[i].Ts,
			EntryPrice: signal.Entry,
			ExitTs:     exitTs,
			ExitPrice:  exitPrice,
			Pnl:        pnl,
			Outcome:    outcome,
		})
	}

	return &Result{
		Trades:      trades,
		Metrics:     computeMetrics(trades, equityCurve),
		EquityCurve: equityCurve,
	}, nil
}

// resolveExit scans the candles after entry for the first stop or target
// touch. Stops are checked before targets within a candle, taking the
// pessimistic fill when both levels fall inside one bar.
func resolveExit(signal *Signal, future []Candle, last Candle) (float64, int64) {
	for _, candle := range future {
		if signal.Side == "buy" {
			if candle.Low <= signal.StopLoss {
				return signal.StopLoss, candle.Ts
			}
			if candle.High >= signal.TakeProfit {
				return signal.TakeProfit, candle.Ts
			}
		} else {
			if candle.High >= signal.StopLoss {
				return signal.StopLoss, candle.Ts
			}
			if candle.Low <= signal.TakeProfit {
				return signal.TakeProfit, candle.Ts
			}
		}
	}
	return last.Close, last.Ts
}

func computeMetrics(trades []Trade, equityCurve []float64) Metrics {
	grossProfit := 0.0
	grossLoss := 0.0
	wins := 0
	for _, trade := range trades {
		if trade.Pnl > 0 {
			grossProfit += trade.Pnl
			wins++
		} else if trade.Pnl < 0 {
			grossLoss += trade.Pnl
		}
	}

	profitFactor := math.Max(grossProfit, 0)
	if grossLoss != 0 {
		profitFactor = grossProfit / math.Abs(grossLoss)
	}

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades)) * 100
	}

	peak := equityCurve[0]
	maxDrawdown := 0.0
	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			drawdown := (peak - equity) / peak * 100
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	finalEquity := equityCurve[len(equityCurve)-1]
	totalReturn := (finalEquity - StartingEquity) / StartingEquity * 100

	return Metrics{
		TotalReturnPct: round4(totalReturn),
		MaxDrawdownPct: round4(maxDrawdown),
		WinRatePct:     round4(winRate),
		ProfitFactor:   round4(profitFactor),
		Trades:         len(trades),
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
