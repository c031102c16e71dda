package gateway

import (
	"context"
	"errors"

	"github.com/mt5trader/gateway/pkg/backtest"
	"github.com/mt5trader/gateway/pkg/connector"
	"github.com/mt5trader/gateway/pkg/copytrade"
	"github.com/mt5trader/gateway/pkg/protocol"
	"github.com/mt5trader/gateway/pkg/risk"
	"github.com/mt5trader/gateway/pkg/trades"
)

type riskPreviewParams struct {
	Intent   orderIntent       `json:"intent"`
	Policy   risk.Policy       `json:"policy"`
	Snapshot risk.AccountState `json:"snapshot"`
}

type orderIntent struct {
	AccountID  string   `json:"accountId"`
	Symbol     string   `json:"symbol"`
	Side       string   `json:"side"`
	Volume     float64  `json:"volume"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

func (i orderIntent) toOrderRequest() risk.OrderRequest {
	return risk.OrderRequest{
		Symbol:   i.Symbol,
		Side:     i.Side,
		Volume:   i.Volume,
		StopLoss: i.StopLoss,
	}
}

func (s *Session) handleRiskPreview(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params riskPreviewParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.Intent.Symbol == "" || params.Intent.Side == "" {
		return invalidParams(req)
	}

	decision := s.services.RiskEngine.Evaluate(params.Intent.toOrderRequest(), params.Policy, params.Snapshot)
	if err := s.appendAudit(req, "risk.preview", map[string]any{
		"intent":   params.Intent,
		"decision": decision,
	}); err != nil {
		return internalError(req, err)
	}

	return []protocol.Frame{
		eventFrame("risk.preview", map[string]any{"requestId": req.ID, "decision": decision}),
		ok(req, decision),
	}
}

func (s *Session) handleRiskStatus(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	status := s.services.RiskControl.Status()
	if err := s.appendAudit(req, "risk.status", nil); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, status)}
}

type emergencyStopParams struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (s *Session) handleRiskEmergencyStop(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params emergencyStopParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}

	status, err := s.services.RiskControl.Activate(params.Action, params.Reason)
	if err != nil {
		return invalidParams(req)
	}
	emergencyStopsTotal.Inc()

	if err := s.appendAudit(req, "risk.emergencyStop", map[string]any{
		"action": params.Action,
		"reason": params.Reason,
	}); err != nil {
		return internalError(req, err)
	}

	frames := []protocol.Frame{
		eventFrame("risk.emergencyStop", map[string]any{"requestId": req.ID, "status": status}),
	}
	// Cancel/close actions notify dashboards that open work is being torn
	// down, beyond the stop itself.
	if params.Action == risk.ActionCancelAll || params.Action == risk.ActionCloseAll {
		frames = append(frames, eventFrame("risk.alert", map[string]any{
			"requestId": req.ID,
			"action":    params.Action,
			"reason":    params.Reason,
		}))
	}
	return append(frames, ok(req, status))
}

type resumeParams struct {
	Reason string `json:"reason"`
}

func (s *Session) handleRiskResume(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params resumeParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}

	status := s.services.RiskControl.Resume(params.Reason)
	if err := s.appendAudit(req, "risk.resume", map[string]any{"reason": params.Reason}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, status)}
}

func (s *Session) handleTradesPlace(ctx context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params riskPreviewParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.Intent.AccountID == "" || params.Intent.Symbol == "" || params.Intent.Side == "" {
		return invalidParams(req)
	}

	policyDecision := s.services.RiskEngine.Evaluate(params.Intent.toOrderRequest(), params.Policy, params.Snapshot)
	decision := s.services.RiskControl.Gate(policyDecision)

	if !decision.Allowed {
		tradePlacementsTotal.WithLabelValues("blocked").Inc()
		if err := s.appendAudit(req, "trades.place.blocked", map[string]any{"decision": decision}); err != nil {
			return internalError(req, err)
		}
		return []protocol.Frame{
			eventFrame("risk.alert", map[string]any{"requestId": req.ID, "decision": decision}),
			protocol.NewErrorResponse(req.ID, codeRiskBlocked, "trade blocked by risk policy",
				map[string]any{"decision": decision}),
		}
	}

	execution, err := s.services.Trades.Place(ctx, trades.PlaceOrder{
		AccountID:  params.Intent.AccountID,
		Symbol:     params.Intent.Symbol,
		Side:       params.Intent.Side,
		Volume:     params.Intent.Volume,
		StopLoss:   params.Intent.StopLoss,
		TakeProfit: params.Intent.TakeProfit,
		Comment:    params.Intent.Comment,
	})
	if err != nil {
		tradePlacementsTotal.WithLabelValues("failed").Inc()
		return []protocol.Frame{connectorErrorResponse(req, err)}
	}
	tradePlacementsTotal.WithLabelValues("executed").Inc()

	if err := s.appendAudit(req, "trades.place.executed", map[string]any{
		"intent":    params.Intent,
		"execution": execution,
		"decision":  decision,
	}); err != nil {
		return internalError(req, err)
	}

	return []protocol.Frame{
		eventFrame("trade.executed", map[string]any{"requestId": req.ID, "execution": execution}),
		ok(req, map[string]any{"execution": execution, "riskDecision": decision}),
	}
}

// connectorErrorResponse maps broker bridge failures onto wire errors,
// preserving the provider code and retryability.
func connectorErrorResponse(req *protocol.RequestFrame, err error) *protocol.ResponseFrame {
	var bridgeErr *connector.Error
	if errors.As(err, &bridgeErr) {
		res := protocol.NewErrorResponse(req.ID, bridgeErr.Code, bridgeErr.Message, nil)
		retryable := bridgeErr.Retryable
		res.Error.Retryable = &retryable
		return res
	}
	return protocol.NewErrorResponse(req.ID, codeInternal, err.Error(), nil)
}

type modifyParams struct {
	AccountID  string   `json:"accountId"`
	OrderID    string   `json:"orderId"`
	OpenPrice  float64  `json:"openPrice"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

func (s *Session) handleTradesModify(ctx context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params modifyParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.OrderID == "" {
		return invalidParams(req)
	}

	execution, err := s.services.Trades.Modify(ctx, trades.ModifyOrder{
		AccountID:  params.AccountID,
		OrderID:    params.OrderID,
		OpenPrice:  params.OpenPrice,
		StopLoss:   params.StopLoss,
		TakeProfit: params.TakeProfit,
	})
	if err != nil {
		return []protocol.Frame{connectorErrorResponse(req, err)}
	}
	if err := s.appendAudit(req, "trades.modify", map[string]any{"orderId": params.OrderID, "execution": execution}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("trade.modified", map[string]any{"requestId": req.ID, "execution": execution}),
		ok(req, map[string]any{"execution": execution}),
	}
}

type cancelParams struct {
	AccountID string `json:"accountId"`
	OrderID   string `json:"orderId"`
}

func (s *Session) handleTradesCancel(ctx context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params cancelParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.OrderID == "" {
		return invalidParams(req)
	}

	execution, err := s.services.Trades.Cancel(ctx, params.AccountID, params.OrderID)
	if err != nil {
		return []protocol.Frame{connectorErrorResponse(req, err)}
	}
	if err := s.appendAudit(req, "trades.cancel", map[string]any{"orderId": params.OrderID, "execution": execution}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("trade.canceled", map[string]any{"requestId": req.ID, "execution": execution}),
		ok(req, map[string]any{"execution": execution}),
	}
}

type closePositionParams struct {
	AccountID  string `json:"accountId"`
	PositionID string `json:"positionId"`
}

func (s *Session) handleTradesClosePosition(ctx context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params closePositionParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.PositionID == "" {
		return invalidParams(req)
	}

	execution, err := s.services.Trades.ClosePosition(ctx, params.AccountID, params.PositionID)
	if err != nil {
		return []protocol.Frame{connectorErrorResponse(req, err)}
	}
	if err := s.appendAudit(req, "trades.closePosition", map[string]any{"positionId": params.PositionID, "execution": execution}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("trade.closed", map[string]any{"requestId": req.ID, "execution": execution}),
		ok(req, map[string]any{"execution": execution}),
	}
}

type backtestsRunParams struct {
	Candles []backtest.Candle `json:"candles"`
	Signals []backtestSignal  `json:"signals"`
}

type backtestSignal struct {
	Index      int     `json:"index"`
	Side       string  `json:"side"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

func (s *Session) handleBacktestsRun(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params backtestsRunParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if len(params.Candles) < 2 || len(params.Signals) == 0 {
		return invalidParams(req)
	}
	signalsByIndex := map[int]backtestSignal{}
	for _, signal := range params.Signals {
		if signal.Index < 0 || signal.Index >= len(params.Candles) {
			return invalidParams(req)
		}
		if signal.Side != "buy" && signal.Side != "sell" {
			return invalidParams(req)
		}
		signalsByIndex[signal.Index] = signal
	}

	strategy := func(i int, candles []backtest.Candle) *backtest.Signal {
		signal, found := signalsByIndex[i]
		if !found {
			return nil
		}
		return &backtest.Signal{
			Side:       signal.Side,
			Entry:      candles[i].Close,
			StopLoss:   signal.StopLoss,
			TakeProfit: signal.TakeProfit,
		}
	}

	result, err := backtest.Run(params.Candles, strategy)
	if err != nil {
		return invalidParams(req)
	}

	if err := s.appendAudit(req, "backtests.run", map[string]any{
		"candles": len(params.Candles),
		"signals": len(params.Signals),
		"metrics": result.Metrics,
	}); err != nil {
		return internalError(req, err)
	}

	return []protocol.Frame{
		eventFrame("backtests.report", map[string]any{"requestId": req.ID, "metrics": result.Metrics}),
		ok(req, result),
	}
}

type copytradePreviewParams struct {
	AccountID   string           `json:"accountId"`
	Signal      copytrade.Signal `json:"signal"`
	Constraints struct {
		AllowedSymbols      []string `json:"allowedSymbols"`
		MaxVolume           float64  `json:"maxVolume"`
		DirectionFilter     string   `json:"directionFilter,omitempty"`
		MaxSignalAgeSeconds int64    `json:"maxSignalAgeSeconds"`
	} `json:"constraints"`
}

func (s *Session) handleCopytradePreview(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params copytradePreviewParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.Signal.SignalID == "" {
		return invalidParams(req)
	}

	result := s.services.Copytrade.Preview(params.Signal, copytrade.Settings{
		AccountID:           params.AccountID,
		AllowedSymbols:      params.Constraints.AllowedSymbols,
		DirectionFilter:     params.Constraints.DirectionFilter,
		MaxVolume:           params.Constraints.MaxVolume,
		MaxSignalAgeSeconds: params.Constraints.MaxSignalAgeSeconds,
	})

	if err := s.appendAudit(req, "copytrade.preview", map[string]any{
		"signalId": params.Signal.SignalID,
		"result":   result,
	}); err != nil {
		return internalError(req, err)
	}

	frames := []protocol.Frame{
		eventFrame("copytrade.preview", map[string]any{"requestId": req.ID, "result": result}),
	}
	// Execution events are suppressed while the service is paused.
	if result.Mapped() && !s.services.Copytrade.Paused() {
		frames = append(frames, eventFrame("copytrade.execution", map[string]any{
			"requestId": req.ID,
			"intent":    result.Intent,
		}))
	}
	return append(frames, ok(req, result))
}

func (s *Session) handleCopytradeStatus(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	if err := s.appendAudit(req, "copytrade.status", nil); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, s.services.Copytrade.Status())}
}

func (s *Session) handleCopytradePause(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	status := s.services.Copytrade.Pause()
	if err := s.appendAudit(req, "copytrade.pause", nil); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, status)}
}

func (s *Session) handleCopytradeResume(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	status := s.services.Copytrade.Resume()
	if err := s.appendAudit(req, "copytrade.resume", nil); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, status)}
}
