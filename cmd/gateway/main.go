// MT5 trading gateway server — speaks the operator session protocol over
// WebSocket, enforces risk policy, and manages agent admission queues.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mt5trader/gateway/pkg/api"
	"github.com/mt5trader/gateway/pkg/audit"
	"github.com/mt5trader/gateway/pkg/config"
	"github.com/mt5trader/gateway/pkg/connector"
	"github.com/mt5trader/gateway/pkg/copytrade"
	"github.com/mt5trader/gateway/pkg/feeds"
	"github.com/mt5trader/gateway/pkg/gateway"
	"github.com/mt5trader/gateway/pkg/memory"
	"github.com/mt5trader/gateway/pkg/plugins"
	"github.com/mt5trader/gateway/pkg/queue"
	"github.com/mt5trader/gateway/pkg/registry"
	"github.com/mt5trader/gateway/pkg/risk"
	"github.com/mt5trader/gateway/pkg/trades"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config",
		getEnv("GATEWAY_CONFIG", "./gateway.jsonc"),
		"Path to gateway configuration file")
	dataDir := flag.String("data-dir",
		getEnv("GATEWAY_DATA_DIR", "./data"),
		"Path to the gateway data directory")
	pluginDir := flag.String("plugin-dir",
		getEnv("GATEWAY_PLUGIN_DIR", "./plugins"),
		"Path to the plugin directory")
	flag.Parse()

	// Load .env next to the config file when present.
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Config file not found, using defaults", "path", *configPath)
			cfg = config.Default()
		} else {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Starting gateway",
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"data_dir", *dataDir)

	stateDir := filepath.Join(*dataDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		slog.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	// Plugins are discovered from disk and filtered by the config policy.
	manifests, diagnostics := plugins.Discover(*pluginDir)
	pluginStatus := plugins.Resolve(manifests, cfg.Plugins.Allow, cfg.Plugins.Deny, cfg.Plugins.Slots)
	pluginStatus.Diagnostics = append(diagnostics, pluginStatus.Diagnostics...)
	for _, diag := range pluginStatus.Diagnostics {
		slog.Warn("Plugin diagnostic", "detail", diag)
	}
	slog.Info("Plugins resolved", "enabled", pluginStatus.EnabledPlugins)

	index, err := memory.Open(filepath.Join(*dataDir, "memory.db"))
	if err != nil {
		slog.Error("Failed to open memory index", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := index.Close(); err != nil {
			slog.Error("Error closing memory index", "error", err)
		}
	}()

	ctx := context.Background()

	// A broker bridge is dialed for the first account that declares a
	// transport; remaining accounts share it. Without one, executions are
	// acknowledged locally with synthetic order ids.
	var provider trades.Provider
	for _, account := range cfg.Accounts {
		if account.Transport == nil {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		client, err := connector.Dial(dialCtx, connector.TransportConfig{
			Type:    account.Transport.Type,
			URL:     account.Transport.URL,
			Command: account.Transport.Command,
			Args:    account.Transport.Args,
		})
		cancel()
		if err != nil {
			slog.Error("Failed to dial broker bridge",
				"account_id", account.AccountID, "error", err)
			os.Exit(1)
		}
		defer client.Close()
		provider = client
		slog.Info("Broker bridge connected", "account_id", account.AccountID)
		break
	}

	accounts := registry.NewAccounts(filepath.Join(*dataDir, "accounts.json"))
	for _, account := range cfg.Accounts {
		if _, err := accounts.Connect(registry.AccountSpec{
			AccountID:         account.AccountID,
			ConnectorID:       account.ConnectorID,
			ProviderAccountID: account.ProviderAccountID,
			Mode:              account.Mode,
			Label:             account.Label,
			AllowedSymbols:    account.AllowedSymbols,
		}); err != nil {
			slog.Error("Failed to register account", "account_id", account.AccountID, "error", err)
			os.Exit(1)
		}
	}

	services := &gateway.Services{
		Config:      config.NewService(cfg),
		Audit:       audit.NewLogger(filepath.Join(*dataDir, "audit.jsonl")),
		RiskEngine:  risk.NewEngine(),
		RiskControl: risk.NewControl(),
		Queues:      queue.NewManager(queue.NewSnapshotStore(filepath.Join(stateDir, "agent_queues.json"))),
		Accounts:    accounts,
		Agents:      registry.NewAgents(filepath.Join(*dataDir, "agents.json"), filepath.Join(*dataDir, "agents")),
		Devices:     registry.NewDevices(filepath.Join(*dataDir, "devices.json")),
		Feeds:       feeds.NewService(),
		Copytrade:   copytrade.NewService(),
		Trades:      trades.NewService(provider),
		Memory:      index,
		Plugins:     pluginStatus,
		StartedAt:   time.Now(),
	}

	httpServer := api.NewServer(services)

	// Collect-mode queues buffer requests until their debounce window
	// elapses; this loop promotes elapsed buffers into batches.
	flushCtx, stopFlusher := context.WithCancel(ctx)
	defer stopFlusher()
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-flushCtx.Done():
				return
			case <-ticker.C:
				flushed, err := services.Queues.FlushCollect()
				if err != nil {
					slog.Error("Collect flush failed", "error", err)
					continue
				}
				for _, batch := range flushed {
					slog.Info("Collect batch admitted",
						"agent_id", batch.Batch.AgentID,
						"request_id", batch.Batch.RequestID,
						"decision", batch.Outcome.Decision)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Gateway stopped")
}
