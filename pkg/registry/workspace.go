package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

var workspaceDirs = []string{
	"hooks",
	"strategies",
	"journal/daily",
	"journal/trade_logs",
	"memory/notes",
	"artifacts/backtests",
	"artifacts/reports",
	"state",
}

const soulTemplate = `# SOUL

You are a disciplined trading agent. You follow your trading manual, respect
every risk limit, and journal what you learn.
`

const manualTemplate = `# TRADING MANUAL

## Principles

1. Never trade outside the symbol allowlist.
2. Every position carries a stop loss.
3. When in doubt, stay flat.
`

// BootstrapWorkspace prepares an agent workspace on disk: the directory
// skeleton plus seed files. Seed files are written only when missing, so
// re-running the bootstrap never clobbers an agent's accumulated state.
func BootstrapWorkspace(workspacePath, agentID string) error {
	for _, dir := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(workspacePath, dir), 0o755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}

	state := map[string]any{
		"agentId":   agentID,
		"status":    "idle",
		"lastRunId": nil,
	}
	stateJSON, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agent state: %w", err)
	}

	seeds := map[string]string{
		"SOUL.md":                soulTemplate,
		"TRADING_MANUAL.md":      manualTemplate,
		"memory/MEMORY.md":       "# MEMORY\n",
		"journal/learnings.md":   "# Learnings\n",
		"state/agent_state.json": string(stateJSON) + "\n",
	}
	for name, content := range seeds {
		path := filepath.Join(workspacePath, name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat workspace file %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write workspace file %s: %w", name, err)
		}
	}
	return nil
}
