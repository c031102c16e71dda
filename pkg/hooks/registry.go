package hooks

import (
	"fmt"
	"sort"
	"sync"
)

// Hook types. Wake hooks enqueue agent work; autotrade and copytrade hooks
// emit order intents.
const (
	TypeWake      = "wake"
	TypeAutotrade = "autotrade"
	TypeCopytrade = "copytrade"
)

// Decision values a hook expression may return.
const (
	DecisionWake        = "WAKE"
	DecisionTradeIntent = "TRADE_INTENT"
	DecisionSkip        = "SKIP"
)

// Registration binds a hook expression to an agent and a set of feed topics.
type Registration struct {
	HookID     string   `json:"hookId"`
	AgentID    string   `json:"agentId"`
	HookType   string   `json:"hookType"`
	HookPath   string   `json:"hookPath"`
	Expression string   `json:"-"`
	Topics     []string `json:"topics"`
}

// Registry is the in-memory set of registered hooks.
type Registry struct {
	mu    sync.Mutex
	hooks map[string]Registration
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: map[string]Registration{}}
}

// Register adds or replaces a hook.
func (r *Registry) Register(registration Registration) error {
	switch registration.HookType {
	case TypeWake, TypeAutotrade, TypeCopytrade:
	default:
		return fmt.Errorf("unknown hook type: %s", registration.HookType)
	}
	if registration.HookID == "" {
		return fmt.Errorf("hook id must be non-empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[registration.HookID] = registration
	return nil
}

// Unregister removes a hook. Removing an unknown id is a no-op.
func (r *Registry) Unregister(hookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hooks, hookID)
}

// ForTopic returns the hooks subscribed to a topic, ordered by hook id for
// deterministic pipeline runs.
func (r *Registry) ForTopic(topic string) []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := []Registration{}
	for _, hook := range r.hooks {
		for _, t := range hook.Topics {
			if t == topic {
				matched = append(matched, hook)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].HookID < matched[j].HookID })
	return matched
}

// List returns every registered hook ordered by hook id.
func (r *Registry) List() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	hooks := make([]Registration, 0, len(r.hooks))
	for _, hook := range r.hooks {
		hooks = append(hooks, hook)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].HookID < hooks[j].HookID })
	return hooks
}
