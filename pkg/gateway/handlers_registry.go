package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mt5trader/gateway/pkg/protocol"
	"github.com/mt5trader/gateway/pkg/queue"
	"github.com/mt5trader/gateway/pkg/registry"
)

type agentRunParams struct {
	AgentID string `json:"agentId"`
	Request struct {
		RequestID string         `json:"requestId"`
		Kind      string         `json:"kind"`
		Priority  string         `json:"priority,omitempty"`
		DedupeKey string         `json:"dedupeKey,omitempty"`
		Payload   map[string]any `json:"payload,omitempty"`
	} `json:"request"`
}

func (s *Session) handleAgentRun(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params agentRunParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AgentID == "" || params.Request.RequestID == "" || params.Request.Kind == "" {
		return invalidParams(req)
	}
	priority := params.Request.Priority
	if priority == "" {
		priority = queue.PriorityNormal
	}
	switch priority {
	case queue.PriorityHigh, queue.PriorityNormal, queue.PriorityLow:
	default:
		return invalidParams(req)
	}

	outcome, err := s.services.Queues.Enqueue(queue.Request{
		RequestID: params.Request.RequestID,
		AgentID:   params.AgentID,
		Kind:      params.Request.Kind,
		Priority:  priority,
		DedupeKey: params.Request.DedupeKey,
		Payload:   params.Request.Payload,
	})
	if err != nil {
		return internalError(req, err)
	}

	if err := s.appendAudit(req, "agent.run", map[string]any{
		"agentId":  params.AgentID,
		"request":  params.Request,
		"decision": outcome.Decision,
	}); err != nil {
		return internalError(req, err)
	}

	status := s.services.Queues.Status(params.AgentID)
	payload := map[string]any{
		"decision":        outcome.Decision,
		"activeRequestId": status.ActiveRequestID,
		"pendingCount":    status.PendingCount,
	}
	if outcome.Reason != "" {
		payload["reason"] = outcome.Reason
	}
	return []protocol.Frame{ok(req, payload)}
}

type agentQueueStatusParams struct {
	AgentID string `json:"agentId"`
}

func (s *Session) handleAgentQueueStatus(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params agentQueueStatusParams
	if err := decodeParams(req, &params); err != nil || params.AgentID == "" {
		return invalidParams(req)
	}
	return []protocol.Frame{ok(req, s.services.Queues.Status(params.AgentID))}
}

type memorySearchParams struct {
	WorkspacePath string `json:"workspacePath"`
	Query         string `json:"query"`
	MaxResults    int    `json:"maxResults,omitempty"`
}

func (s *Session) handleMemorySearch(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params memorySearchParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.WorkspacePath == "" || params.Query == "" {
		return invalidParams(req)
	}
	if params.MaxResults == 0 {
		params.MaxResults = 10
	}
	if params.MaxResults < 1 || params.MaxResults > 50 {
		return invalidParams(req)
	}

	if err := s.services.Memory.ReindexWorkspace(params.WorkspacePath); err != nil {
		return internalError(req, err)
	}
	results, err := s.services.Memory.Search(params.Query, params.MaxResults)
	if err != nil {
		return internalError(req, err)
	}

	if err := s.appendAudit(req, "memory.search", map[string]any{
		"workspacePath": params.WorkspacePath,
		"query":         params.Query,
		"resultCount":   len(results),
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{"results": results})}
}

type devicesPairParams struct {
	DeviceID  string `json:"deviceId"`
	Platform  string `json:"platform"`
	Label     string `json:"label,omitempty"`
	PushToken string `json:"pushToken,omitempty"`
}

func (s *Session) handleDevicesPair(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params devicesPairParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.DeviceID == "" || params.Platform == "" {
		return invalidParams(req)
	}

	device, err := s.services.Devices.Pair(params.DeviceID, params.Platform, params.Label, params.PushToken)
	if err != nil {
		return internalError(req, err)
	}
	if err := s.appendAudit(req, "devices.pair", map[string]any{"deviceId": params.DeviceID}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{"device": device})}
}

func (s *Session) handleDevicesList(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, map[string]any{"devices": s.services.Devices.List()})}
}

type deviceIDParams struct {
	DeviceID string `json:"deviceId"`
}

func (s *Session) handleDevicesUnpair(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params deviceIDParams
	if err := decodeParams(req, &params); err != nil || params.DeviceID == "" {
		return invalidParams(req)
	}

	if err := s.services.Devices.Unpair(params.DeviceID); err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return []protocol.Frame{protocol.NewErrorResponse(
				req.ID, codeNotFound, err.Error(), nil)}
		}
		return internalError(req, err)
	}
	if err := s.appendAudit(req, "devices.unpair", map[string]any{"deviceId": params.DeviceID}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{"deviceId": params.DeviceID})}
}

type registerPushParams struct {
	DeviceID  string `json:"deviceId"`
	PushToken string `json:"pushToken"`
}

func (s *Session) handleDevicesRegisterPush(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params registerPushParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.DeviceID == "" || params.PushToken == "" {
		return invalidParams(req)
	}

	device, err := s.services.Devices.RegisterPush(params.DeviceID, params.PushToken)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			return []protocol.Frame{protocol.NewErrorResponse(
				req.ID, codeNotFound, err.Error(), nil)}
		}
		return internalError(req, err)
	}
	if err := s.appendAudit(req, "devices.registerPush", map[string]any{"deviceId": params.DeviceID}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{"device": device})}
}

type notifyTestParams struct {
	DeviceID string `json:"deviceId"`
	Message  string `json:"message,omitempty"`
}

func (s *Session) handleDevicesNotifyTest(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params notifyTestParams
	if err := decodeParams(req, &params); err != nil || params.DeviceID == "" {
		return invalidParams(req)
	}

	result, err := s.services.Devices.NotifyTest(params.DeviceID, params.Message)
	if err != nil {
		return internalError(req, err)
	}
	if err := s.appendAudit(req, "devices.notifyTest", map[string]any{
		"deviceId": params.DeviceID,
		"status":   result.Status,
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, result)}
}

type accountsConnectParams struct {
	AccountID         string   `json:"accountId"`
	ConnectorID       string   `json:"connectorId"`
	ProviderAccountID string   `json:"providerAccountId"`
	Mode              string   `json:"mode"`
	Label             string   `json:"label,omitempty"`
	AllowedSymbols    []string `json:"allowedSymbols,omitempty"`
}

func (s *Session) handleAccountsConnect(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params accountsConnectParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.ConnectorID == "" {
		return invalidParams(req)
	}
	switch params.Mode {
	case "demo", "paper", "live":
	default:
		return invalidParams(req)
	}

	account, err := s.services.Accounts.Connect(registry.AccountSpec{
		AccountID:         params.AccountID,
		ConnectorID:       params.ConnectorID,
		ProviderAccountID: params.ProviderAccountID,
		Mode:              params.Mode,
		Label:             params.Label,
		AllowedSymbols:    params.AllowedSymbols,
	})
	if err != nil {
		return internalError(req, err)
	}

	if err := s.appendAudit(req, "accounts.connect", map[string]any{
		"accountId": params.AccountID,
		"mode":      params.Mode,
	}); err != nil {
		return internalError(req, err)
	}

	return []protocol.Frame{
		eventFrame("account.status", map[string]any{"requestId": req.ID, "account": account}),
		ok(req, map[string]any{"account": account}),
	}
}

func (s *Session) handleAccountsList(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, map[string]any{"accounts": s.services.Accounts.List()})}
}

type accountIDParams struct {
	AccountID string `json:"accountId"`
}

func (s *Session) handleAccountsGet(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params accountIDParams
	if err := decodeParams(req, &params); err != nil || params.AccountID == "" {
		return invalidParams(req)
	}

	account, err := s.services.Accounts.Get(params.AccountID)
	if err != nil {
		return []protocol.Frame{protocol.NewErrorResponse(req.ID, codeNotFound, err.Error(), nil)}
	}
	return []protocol.Frame{ok(req, map[string]any{"account": account})}
}

func (s *Session) handleAccountsStatus(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params accountIDParams
	if err := decodeParams(req, &params); err != nil || params.AccountID == "" {
		return invalidParams(req)
	}

	account, err := s.services.Accounts.Get(params.AccountID)
	if err != nil {
		return []protocol.Frame{protocol.NewErrorResponse(req.ID, codeNotFound, err.Error(), nil)}
	}
	return []protocol.Frame{ok(req, map[string]any{
		"accountId":      account.AccountID,
		"status":         account.Status,
		"connectedAt":    account.ConnectedAt,
		"disconnectedAt": account.DisconnectedAt,
	})}
}

func (s *Session) handleAccountsDisconnect(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params accountIDParams
	if err := decodeParams(req, &params); err != nil || params.AccountID == "" {
		return invalidParams(req)
	}

	account, err := s.services.Accounts.Disconnect(params.AccountID)
	if err != nil {
		if errors.Is(err, registry.ErrAccountNotFound) {
			return []protocol.Frame{protocol.NewErrorResponse(req.ID, codeNotFound, err.Error(), nil)}
		}
		return internalError(req, err)
	}

	if err := s.appendAudit(req, "accounts.disconnect", map[string]any{"accountId": params.AccountID}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("account.status", map[string]any{"requestId": req.ID, "account": account}),
		ok(req, map[string]any{"account": account}),
	}
}

func (s *Session) handleFeedsList(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	if err := s.appendAudit(req, "feeds.list", nil); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{"feeds": s.services.Feeds.ListFeeds()})}
}

type feedsSubscribeParams struct {
	Topics     []string `json:"topics"`
	Symbols    []string `json:"symbols,omitempty"`
	Timeframes []string `json:"timeframes,omitempty"`
}

func (s *Session) handleFeedsSubscribe(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params feedsSubscribeParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}

	subscription, err := s.services.Feeds.Subscribe(params.Topics, params.Symbols, params.Timeframes)
	if err != nil {
		return invalidParams(req)
	}
	if err := s.appendAudit(req, "feeds.subscribe", map[string]any{
		"subscriptionId": subscription.SubscriptionID,
		"topics":         params.Topics,
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("feed.event", map[string]any{
			"requestId":    req.ID,
			"kind":         "subscribed",
			"subscription": subscription,
		}),
		ok(req, map[string]any{"subscription": subscription}),
	}
}

type feedsUnsubscribeParams struct {
	SubscriptionID string `json:"subscriptionId"`
}

func (s *Session) handleFeedsUnsubscribe(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params feedsUnsubscribeParams
	if err := decodeParams(req, &params); err != nil || params.SubscriptionID == "" {
		return invalidParams(req)
	}

	if err := s.services.Feeds.Unsubscribe(params.SubscriptionID); err != nil {
		return []protocol.Frame{protocol.NewErrorResponse(req.ID, codeNotFound, err.Error(), nil)}
	}
	if err := s.appendAudit(req, "feeds.unsubscribe", map[string]any{
		"subscriptionId": params.SubscriptionID,
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("feed.event", map[string]any{
			"requestId":      req.ID,
			"kind":           "unsubscribed",
			"subscriptionId": params.SubscriptionID,
		}),
		ok(req, map[string]any{"subscriptionId": params.SubscriptionID}),
	}
}

type getCandlesParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Limit     int    `json:"limit,omitempty"`
}

func (s *Session) handleFeedsGetCandles(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params getCandlesParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.Symbol == "" || params.Timeframe == "" {
		return invalidParams(req)
	}
	if params.Limit == 0 {
		params.Limit = 100
	}
	if params.Limit < 1 || params.Limit > 1000 {
		return invalidParams(req)
	}

	candles := s.services.Feeds.GetCandles(params.Symbol, params.Timeframe, params.Limit)
	if err := s.appendAudit(req, "feeds.getCandles", map[string]any{
		"symbol":    params.Symbol,
		"timeframe": params.Timeframe,
		"limit":     params.Limit,
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{
		"symbol":    params.Symbol,
		"timeframe": params.Timeframe,
		"candles":   candles,
	})}
}

type agentsCreateParams struct {
	AgentID string `json:"agentId"`
	Label   string `json:"label,omitempty"`
}

func (s *Session) handleAgentsCreate(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params agentsCreateParams
	if err := decodeParams(req, &params); err != nil || params.AgentID == "" {
		return invalidParams(req)
	}

	agent, err := s.services.Agents.Create(params.AgentID, params.Label)
	if err != nil {
		if errors.Is(err, registry.ErrAgentExists) {
			return []protocol.Frame{protocol.NewErrorResponse(
				req.ID, codeInvalidParams, err.Error(), nil)}
		}
		return internalError(req, err)
	}

	if err := s.appendAudit(req, "agents.create", map[string]any{"agentId": params.AgentID}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("agent.status", map[string]any{"requestId": req.ID, "agent": agent}),
		ok(req, map[string]any{"agent": agent}),
	}
}

func (s *Session) handleAgentsList(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, map[string]any{"agents": s.services.Agents.List()})}
}

type agentIDParams struct {
	AgentID string `json:"agentId"`
}

func (s *Session) handleAgentsGet(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params agentIDParams
	if err := decodeParams(req, &params); err != nil || params.AgentID == "" {
		return invalidParams(req)
	}

	agent, err := s.services.Agents.Get(params.AgentID)
	if err != nil {
		return []protocol.Frame{protocol.NewErrorResponse(req.ID, codeNotFound, err.Error(), nil)}
	}
	return []protocol.Frame{ok(req, map[string]any{"agent": agent})}
}

// marketplaceStrategy is one entry of the published strategy catalog.
type marketplaceStrategy struct {
	StrategyID  string  `json:"strategyId"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	WinRatePct  float64 `json:"winRatePct"`
	Subscribers int     `json:"subscribers"`
}

// marketplaceCatalog is the fixed strategy catalog served to sessions.
var marketplaceCatalog = []marketplaceStrategy{
	{StrategyID: "strat_momentum_eu", Name: "EURUSD Momentum", Symbol: "EURUSD", WinRatePct: 58.2, Subscribers: 412},
	{StrategyID: "strat_meanrev_xau", Name: "Gold Mean Reversion", Symbol: "XAUUSD", WinRatePct: 61.7, Subscribers: 287},
}

func (s *Session) handleMarketplaceSignals(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	if err := s.appendAudit(req, "marketplace.signals", nil); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, map[string]any{"strategies": marketplaceCatalog})}
}

type followParams struct {
	AccountID  string `json:"accountId"`
	StrategyID string `json:"strategyId"`
}

func (s *Session) marketplaceStrategyExists(strategyID string) bool {
	for _, strategy := range marketplaceCatalog {
		if strategy.StrategyID == strategyID {
			return true
		}
	}
	return false
}

func (s *Session) handleMarketplaceFollow(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params followParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.StrategyID == "" {
		return invalidParams(req)
	}
	if !s.marketplaceStrategyExists(params.StrategyID) {
		return []protocol.Frame{protocol.NewErrorResponse(
			req.ID, codeNotFound, "unknown strategy: "+params.StrategyID, nil)}
	}

	key := followKey{accountID: params.AccountID, strategyID: params.StrategyID}
	follow, exists := s.follows[key]
	if !exists {
		follow = Follow{
			AccountID:  params.AccountID,
			StrategyID: params.StrategyID,
			FollowedAt: s.now().UTC().Format(time.RFC3339),
		}
		s.follows[key] = follow
	}

	if err := s.appendAudit(req, "marketplace.follow", map[string]any{
		"accountId":  params.AccountID,
		"strategyId": params.StrategyID,
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("marketplace.follow", map[string]any{"requestId": req.ID, "follow": follow}),
		ok(req, map[string]any{"follow": follow}),
	}
}

func (s *Session) handleMarketplaceUnfollow(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params followParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.AccountID == "" || params.StrategyID == "" {
		return invalidParams(req)
	}

	key := followKey{accountID: params.AccountID, strategyID: params.StrategyID}
	if _, exists := s.follows[key]; !exists {
		return []protocol.Frame{protocol.NewErrorResponse(
			req.ID, codeNotFound, "not following strategy: "+params.StrategyID, nil)}
	}
	delete(s.follows, key)

	if err := s.appendAudit(req, "marketplace.unfollow", map[string]any{
		"accountId":  params.AccountID,
		"strategyId": params.StrategyID,
	}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{
		eventFrame("marketplace.unfollow", map[string]any{
			"requestId":  req.ID,
			"accountId":  params.AccountID,
			"strategyId": params.StrategyID,
		}),
		ok(req, map[string]any{"accountId": params.AccountID, "strategyId": params.StrategyID}),
	}
}

func (s *Session) handleMarketplaceMyFollows(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	if err := s.appendAudit(req, "marketplace.myFollows", nil); err != nil {
		return internalError(req, err)
	}
	follows := make([]Follow, 0, len(s.follows))
	for _, follow := range s.follows {
		follows = append(follows, follow)
	}
	sort.Slice(follows, func(i, j int) bool {
		if follows[i].AccountID != follows[j].AccountID {
			return follows[i].AccountID < follows[j].AccountID
		}
		return follows[i].StrategyID < follows[j].StrategyID
	})
	return []protocol.Frame{ok(req, map[string]any{"follows": follows})}
}
