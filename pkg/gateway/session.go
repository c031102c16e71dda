// Package gateway implements the control-plane session protocol: framed
// request dispatch over one WebSocket connection, with per-method side
// effects (queue admission, risk gating, trade execution) and audit
// obligations.
package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mt5trader/gateway/pkg/audit"
	"github.com/mt5trader/gateway/pkg/config"
	"github.com/mt5trader/gateway/pkg/copytrade"
	"github.com/mt5trader/gateway/pkg/feeds"
	"github.com/mt5trader/gateway/pkg/memory"
	"github.com/mt5trader/gateway/pkg/plugins"
	"github.com/mt5trader/gateway/pkg/protocol"
	"github.com/mt5trader/gateway/pkg/queue"
	"github.com/mt5trader/gateway/pkg/registry"
	"github.com/mt5trader/gateway/pkg/risk"
	"github.com/mt5trader/gateway/pkg/trades"
	"github.com/mt5trader/gateway/pkg/version"
)

// ProtocolVersion is the only protocol revision this gateway speaks.
const ProtocolVersion = 1

// Error codes surfaced by the dispatcher itself.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeInvalidParams  = "INVALID_PARAMS"
	codeNotFound       = "NOT_FOUND"
	codeRiskBlocked    = "RISK_BLOCKED"
	codeInternal       = "INTERNAL"
)

// auditActor is the actor recorded for every session-originated action.
// Sessions hold the operator role, so there is a single actor today.
const auditActor = "user"

// Services bundles the process-global stores a session dispatches into.
type Services struct {
	Config      *config.Service
	Audit       *audit.Logger
	RiskEngine  *risk.Engine
	RiskControl *risk.Control
	Queues      *queue.Manager
	Accounts    *registry.Accounts
	Agents      *registry.Agents
	Devices     *registry.Devices
	Feeds       *feeds.Service
	Copytrade   *copytrade.Service
	Trades      *trades.Service
	Memory      *memory.Index
	Plugins     plugins.Status
	StartedAt   time.Time
}

type followKey struct {
	accountID  string
	strategyID string
}

// Follow is one marketplace follow held by a session.
type Follow struct {
	AccountID  string `json:"accountId"`
	StrategyID string `json:"strategyId"`
	FollowedAt string `json:"followedAt"`
}

// Session is the per-connection dispatch state. A session is driven by a
// single goroutine, so its fields need no locking; all cross-session state
// lives behind the Services stores.
type Session struct {
	services  *Services
	sessionID string
	connected bool
	follows   map[followKey]Follow
	logger    *slog.Logger
	now       func() time.Time
}

// NewSession creates a session awaiting its gateway.connect handshake.
func NewSession(services *Services) *Session {
	sessionsTotal.Inc()
	return &Session{
		services: services,
		follows:  map[followKey]Follow{},
		logger:   slog.With("component", "gateway_session"),
		now:      time.Now,
	}
}

// Handle processes one raw inbound message and returns the frames to write
// back, in order. Events always precede the response that triggered them.
func (s *Session) Handle(ctx context.Context, data []byte) []protocol.Frame {
	frame, err := protocol.ParseFrame(data)
	if err != nil {
		return []protocol.Frame{protocol.NewErrorResponse(
			protocol.ExtractRequestID(data), codeInvalidRequest, "malformed frame", nil)}
	}

	req, ok := frame.(*protocol.RequestFrame)
	if !ok {
		return []protocol.Frame{protocol.NewErrorResponse(
			protocol.ExtractRequestID(data), codeInvalidRequest,
			"gateway accepts request frames only", nil)}
	}

	if !s.connected && req.Method != "gateway.connect" {
		return []protocol.Frame{protocol.NewErrorResponse(
			req.ID, codeInvalidRequest, "first request must be gateway.connect", nil)}
	}

	handler, ok := methods[req.Method]
	if !ok {
		requestsTotal.WithLabelValues(req.Method, "not_found").Inc()
		return []protocol.Frame{protocol.NewErrorResponse(
			req.ID, codeNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)}
	}

	frames := handler(s, ctx, req)
	requestsTotal.WithLabelValues(req.Method, outcomeOf(frames)).Inc()
	return frames
}

func outcomeOf(frames []protocol.Frame) string {
	for _, frame := range frames {
		if res, ok := frame.(*protocol.ResponseFrame); ok {
			if res.OK {
				return "ok"
			}
			return "error"
		}
	}
	return "none"
}

// decodeParams strictly decodes request params into a typed struct.
func decodeParams(req *protocol.RequestFrame, target any) error {
	data, err := json.Marshal(req.Params)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func invalidParams(req *protocol.RequestFrame) []protocol.Frame {
	return []protocol.Frame{protocol.NewErrorResponse(
		req.ID, codeInvalidParams, fmt.Sprintf("invalid %s params", req.Method), nil)}
}

func ok(req *protocol.RequestFrame, payload any) *protocol.ResponseFrame {
	return protocol.NewOKResponse(req.ID, payload)
}

// eventFrame builds a server event. Wire event names carry an "event."
// prefix to keep them distinct from method names.
func eventFrame(name string, payload map[string]any) *protocol.EventFrame {
	return protocol.NewEvent("event."+name, payload)
}

// appendAudit records an audit entry for the request. Audit failure is a
// hard failure: the action already happened, but the caller must know the
// trail is broken.
func (s *Session) appendAudit(req *protocol.RequestFrame, action string, data any) error {
	_, err := s.services.Audit.Append(auditActor, action, req.ID, data)
	if err != nil {
		s.logger.Error("Audit append failed", "action", action, "error", err)
	}
	return err
}

func internalError(req *protocol.RequestFrame, err error) []protocol.Frame {
	return []protocol.Frame{protocol.NewErrorResponse(req.ID, codeInternal, err.Error(), nil)}
}

func newSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("session id generation failed: %v", err))
	}
	return "sess_" + hex.EncodeToString(buf)
}

// serverInfo is the server identity block of connect and status payloads.
func serverInfo() map[string]any {
	return map[string]any{
		"name":    version.ServerName,
		"version": version.ServerVersion,
	}
}
