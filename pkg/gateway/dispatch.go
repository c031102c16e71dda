package gateway

import (
	"context"

	"github.com/mt5trader/gateway/pkg/config"
	"github.com/mt5trader/gateway/pkg/protocol"
)

type handlerFunc func(s *Session, ctx context.Context, req *protocol.RequestFrame) []protocol.Frame

// methods is the dispatch table. Every method the gateway speaks appears
// here; anything else is NOT_FOUND.
var methods = map[string]handlerFunc{
	"gateway.connect": (*Session).handleConnect,
	"gateway.ping":    (*Session).handlePing,
	"gateway.status":  (*Session).handleStatus,

	"config.get":    (*Session).handleConfigGet,
	"config.schema": (*Session).handleConfigSchema,
	"config.patch":  (*Session).handleConfigPatch,

	"plugins.status": (*Session).handlePluginsStatus,

	"risk.preview":       (*Session).handleRiskPreview,
	"risk.status":        (*Session).handleRiskStatus,
	"risk.emergencyStop": (*Session).handleRiskEmergencyStop,
	"risk.resume":        (*Session).handleRiskResume,

	"agent.run":          (*Session).handleAgentRun,
	"agent.queue.status": (*Session).handleAgentQueueStatus,

	"memory.search": (*Session).handleMemorySearch,

	"backtests.run": (*Session).handleBacktestsRun,

	"devices.pair":         (*Session).handleDevicesPair,
	"devices.list":         (*Session).handleDevicesList,
	"devices.unpair":       (*Session).handleDevicesUnpair,
	"devices.registerPush": (*Session).handleDevicesRegisterPush,
	"devices.notifyTest":   (*Session).handleDevicesNotifyTest,

	"trades.place":         (*Session).handleTradesPlace,
	"trades.modify":        (*Session).handleTradesModify,
	"trades.cancel":        (*Session).handleTradesCancel,
	"trades.closePosition": (*Session).handleTradesClosePosition,

	"accounts.connect":    (*Session).handleAccountsConnect,
	"accounts.list":       (*Session).handleAccountsList,
	"accounts.get":        (*Session).handleAccountsGet,
	"accounts.status":     (*Session).handleAccountsStatus,
	"accounts.disconnect": (*Session).handleAccountsDisconnect,

	"feeds.list":        (*Session).handleFeedsList,
	"feeds.subscribe":   (*Session).handleFeedsSubscribe,
	"feeds.unsubscribe": (*Session).handleFeedsUnsubscribe,
	"feeds.getCandles":  (*Session).handleFeedsGetCandles,

	"agents.create": (*Session).handleAgentsCreate,
	"agents.list":   (*Session).handleAgentsList,
	"agents.get":    (*Session).handleAgentsGet,

	"marketplace.signals":   (*Session).handleMarketplaceSignals,
	"marketplace.follow":    (*Session).handleMarketplaceFollow,
	"marketplace.unfollow":  (*Session).handleMarketplaceUnfollow,
	"marketplace.myFollows": (*Session).handleMarketplaceMyFollows,

	"copytrade.preview": (*Session).handleCopytradePreview,
	"copytrade.status":  (*Session).handleCopytradeStatus,
	"copytrade.pause":   (*Session).handleCopytradePause,
	"copytrade.resume":  (*Session).handleCopytradeResume,
}

type connectParams struct {
	Client struct {
		Name     string `json:"name"`
		Kind     string `json:"kind"`
		Platform string `json:"platform"`
		Version  string `json:"version"`
		DeviceID string `json:"deviceId,omitempty"`
	} `json:"client"`
	Protocol struct {
		Min int `json:"min"`
		Max int `json:"max"`
	} `json:"protocol"`
	Auth *struct {
		Token string `json:"token"`
	} `json:"auth,omitempty"`
}

func (s *Session) handleConnect(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	var params connectParams
	if err := decodeParams(req, &params); err != nil {
		return invalidParams(req)
	}
	if params.Client.Name == "" || params.Protocol.Min < 1 || params.Protocol.Max < 1 {
		return invalidParams(req)
	}

	if params.Protocol.Min > ProtocolVersion || params.Protocol.Max < ProtocolVersion {
		return []protocol.Frame{protocol.NewErrorResponse(
			req.ID, codeInvalidRequest, "protocol mismatch",
			map[string]any{"expectedProtocol": ProtocolVersion})}
	}

	cfg := s.services.Config.Get()
	if cfg.Gateway.Auth.Mode == "token" {
		if params.Auth == nil || params.Auth.Token != cfg.Gateway.Auth.Token {
			return []protocol.Frame{protocol.NewErrorResponse(
				req.ID, codeInvalidRequest, "auth failed", nil)}
		}
	}

	s.sessionID = newSessionID()
	s.connected = true
	s.logger = s.logger.With("session_id", s.sessionID)
	s.logger.Info("Session connected",
		"client", params.Client.Name, "platform", params.Client.Platform)

	return []protocol.Frame{ok(req, map[string]any{
		"protocol": map[string]any{"selected": ProtocolVersion},
		"session":  map[string]any{"sessionId": s.sessionID, "role": "operator"},
		"server":   serverInfo(),
	})}
}

func (s *Session) handlePing(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, map[string]any{"now": s.now().UnixMilli()})}
}

func (s *Session) handleStatus(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, map[string]any{
		"protocolVersion": ProtocolVersion,
		"uptimeSeconds":   int64(s.now().Sub(s.services.StartedAt).Seconds()),
		"sessionId":       s.sessionID,
		"server":          serverInfo(),
	})}
}

func (s *Session) handleConfigGet(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, s.services.Config.Get())}
}

func (s *Session) handleConfigSchema(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, config.Schema())}
}

func (s *Session) handleConfigPatch(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	updated, err := s.services.Config.Patch(req.Params)
	if err != nil {
		return invalidParams(req)
	}
	if err := s.appendAudit(req, "config.patch", map[string]any{"patch": req.Params}); err != nil {
		return internalError(req, err)
	}
	return []protocol.Frame{ok(req, updated)}
}

func (s *Session) handlePluginsStatus(_ context.Context, req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{ok(req, s.services.Plugins)}
}
