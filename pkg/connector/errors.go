// Package connector talks to broker bridge processes over MCP (Model
// Context Protocol). A bridge exposes the trading surface of one provider
// (e.g. an MT5 terminal) as MCP tools; this package wraps those tools in a
// typed client with provider error classification and busy-retry.
package connector

import (
	"fmt"
	"strings"
)

// Provider error codes. Codes are classified from the bridge's error text;
// anything unrecognized falls back to CONNECTOR_ERROR.
const (
	CodeMarketClosed      = "MARKET_CLOSED"
	CodeTradeContextBusy  = "TRADE_CONTEXT_BUSY"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeInvalidStops      = "INVALID_STOPS"
	CodeConnectorError    = "CONNECTOR_ERROR"
)

// Error is a classified broker bridge failure.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// classifyError maps raw bridge error text onto a typed Error. Only the
// trade-context collision is retryable; every other provider rejection is a
// hard failure the caller must surface.
func classifyError(message string) *Error {
	for _, code := range []string{
		CodeMarketClosed,
		CodeTradeContextBusy,
		CodeInsufficientFunds,
		CodeInvalidStops,
	} {
		if strings.Contains(message, code) {
			return &Error{
				Code:      code,
				Message:   message,
				Retryable: code == CodeTradeContextBusy,
			}
		}
	}
	return &Error{Code: CodeConnectorError, Message: message, Retryable: false}
}
