package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mt5trader/gateway/pkg/backtest"
	"github.com/mt5trader/gateway/pkg/trades"
	"github.com/mt5trader/gateway/pkg/version"
)

// Transport types for broker bridges.
const (
	TransportTypeStdio = "stdio"
	TransportTypeHTTP  = "http"
)

// DefaultCallTimeout bounds every bridge tool call.
const DefaultCallTimeout = 20 * time.Second

// busyMaxRetries caps retries of TRADE_CONTEXT_BUSY rejections. The MT5
// trade context serializes order operations, so short collisions are
// expected and worth retrying.
const busyMaxRetries = 3

// TransportConfig describes how to reach a broker bridge.
type TransportConfig struct {
	Type    string            `json:"type"`
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Position is an open position reported by the bridge.
type Position struct {
	PositionID string  `json:"positionId"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"openPrice"`
	Pnl        float64 `json:"pnl"`
}

// Client is a connected broker bridge session.
type Client struct {
	session *mcpsdk.ClientSession
	timeout time.Duration
	logger  *slog.Logger
}

// Dial connects to a broker bridge over the configured transport.
func Dial(ctx context.Context, cfg TransportConfig) (*Client, error) {
	transport, err := createTransport(cfg)
	if err != nil {
		return nil, err
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker bridge: %w", err)
	}

	return &Client{
		session: session,
		timeout: DefaultCallTimeout,
		logger:  slog.With("component", "connector"),
	}, nil
}

// Close terminates the bridge session.
func (c *Client) Close() error {
	return c.session.Close()
}

func createTransport(cfg TransportConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case TransportTypeStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires command")
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	case TransportTypeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires url")
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

// GetCandles fetches historical candles for a symbol.
func (c *Client) GetCandles(ctx context.Context, accountID, symbol, timeframe string, limit int, startTime *int64) ([]backtest.Candle, error) {
	args := map[string]any{
		"accountId": accountID,
		"symbol":    symbol,
		"timeframe": timeframe,
		"limit":     limit,
	}
	if startTime != nil {
		args["startTime"] = *startTime
	}

	text, err := c.callTool(ctx, "get_candles", args)
	if err != nil {
		return nil, err
	}

	var candles []backtest.Candle
	if err := json.Unmarshal([]byte(text), &candles); err != nil {
		return nil, fmt.Errorf("bridge returned malformed candles: %w", err)
	}
	return candles, nil
}

// PlaceMarketOrder places a market order, retrying trade-context collisions
// with exponential backoff. Returns the provider order id.
func (c *Client) PlaceMarketOrder(ctx context.Context, order trades.PlaceOrder) (string, error) {
	args := map[string]any{
		"accountId": order.AccountID,
		"symbol":    order.Symbol,
		"side":      order.Side,
		"volume":    order.Volume,
	}
	if order.StopLoss != nil {
		args["stopLoss"] = *order.StopLoss
	}
	if order.TakeProfit != nil {
		args["takeProfit"] = *order.TakeProfit
	}
	if order.Comment != "" {
		args["comment"] = order.Comment
	}

	var orderID string
	operation := func() error {
		text, err := c.callTool(ctx, "place_market_order", args)
		if err != nil {
			var bridgeErr *Error
			if errors.As(err, &bridgeErr) && bridgeErr.Retryable {
				c.logger.Warn("Trade context busy, retrying", "symbol", order.Symbol)
				return err
			}
			return backoff.Permanent(err)
		}

		var response struct {
			OrderID string `json:"orderId"`
		}
		if err := json.Unmarshal([]byte(text), &response); err != nil {
			return backoff.Permanent(fmt.Errorf("bridge returned malformed order response: %w", err))
		}
		orderID = response.OrderID
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), busyMaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return orderID, nil
}

// CancelOrder cancels a working order.
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	_, err := c.callTool(ctx, "cancel_order", map[string]any{
		"accountId": accountID,
		"orderId":   orderID,
	})
	return err
}

// GetPositions lists the account's open positions.
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]Position, error) {
	text, err := c.callTool(ctx, "get_positions", map[string]any{"accountId": accountID})
	if err != nil {
		return nil, err
	}

	var positions []Position
	if err := json.Unmarshal([]byte(text), &positions); err != nil {
		return nil, fmt.Errorf("bridge returned malformed positions: %w", err)
	}
	return positions, nil
}

// callTool invokes one bridge tool and returns its text content. Bridge
// failures are classified into typed connector errors.
func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.session.CallTool(callCtx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", classifyError(err.Error())
	}

	text := extractTextContent(result)
	if result.IsError {
		return "", classifyError(text)
	}
	return text, nil
}

// extractTextContent concatenates the text items of a tool result. Non-text
// content is ignored.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var text string
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	return text
}
