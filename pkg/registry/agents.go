package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrAgentNotFound is returned for lookups of unknown agent ids.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentExists is returned when creating an agent whose id is taken.
var ErrAgentExists = errors.New("agent already exists")

// Agent is a trading agent registered with the gateway.
type Agent struct {
	AgentID       string `json:"agentId"`
	Label         string `json:"label"`
	Status        string `json:"status"`
	WorkspacePath string `json:"workspacePath"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

// Agents is the trading agent registry. Creating an agent also bootstraps
// its workspace under the registry's workspace root.
type Agents struct {
	mu            sync.Mutex
	agents        map[string]*Agent
	path          string
	workspaceRoot string
	logger        *slog.Logger
	now           func() time.Time
}

// NewAgents creates the registry, loading any persisted agents. New agent
// workspaces are created under workspaceRoot/<agentId>.
func NewAgents(path, workspaceRoot string) *Agents {
	r := &Agents{
		agents:        map[string]*Agent{},
		path:          path,
		workspaceRoot: workspaceRoot,
		logger:        slog.With("component", "agents_registry"),
		now:           time.Now,
	}
	for _, agent := range loadVersionedList[Agent](path, "agents", r.logger) {
		copied := agent
		r.agents[agent.AgentID] = &copied
	}
	return r
}

// Create registers a new agent and bootstraps its workspace.
func (r *Agents) Create(agentID, label string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentExists, agentID)
	}

	workspacePath := filepath.Join(r.workspaceRoot, agentID)
	if err := BootstrapWorkspace(workspacePath, agentID); err != nil {
		return Agent{}, fmt.Errorf("failed to bootstrap workspace for %s: %w", agentID, err)
	}

	ts := r.now().UTC().Format(time.RFC3339)
	agent := &Agent{
		AgentID:       agentID,
		Label:         label,
		Status:        "ready",
		WorkspacePath: workspacePath,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	r.agents[agentID] = agent

	r.logger.Info("Agent created", "agent_id", agentID, "workspace", workspacePath)
	if err := r.persistLocked(); err != nil {
		return Agent{}, err
	}
	return *agent, nil
}

// Get returns one agent by id.
func (r *Agents) Get(agentID string) (Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return *agent, nil
}

// List returns all agents ordered by agent id.
func (r *Agents) List() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked()
}

func (r *Agents) sortedLocked() []Agent {
	agents := make([]Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		agents = append(agents, *agent)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents
}

func (r *Agents) persistLocked() error {
	return saveVersionedList(r.path, "agents", r.sortedLocked())
}
