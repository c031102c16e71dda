package feeds

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mt5trader/gateway/pkg/hooks"
	"github.com/mt5trader/gateway/pkg/queue"
)

// Event is one feed event flowing through the hook pipeline.
type Event struct {
	EventID string         `json:"eventId"`
	Topic   string         `json:"topic"`
	Ts      int64          `json:"ts"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// TradeIntent is an order intent produced by an autotrade or copytrade hook.
type TradeIntent struct {
	HookID  string         `json:"hookId"`
	AgentID string         `json:"agentId"`
	Intent  map[string]any `json:"intent"`
}

// HookError records one hook that failed during a pipeline run. Hook
// failures are isolated: one broken hook never stops the others.
type HookError struct {
	HookID  string `json:"hookId"`
	AgentID string `json:"agentId"`
	Error   string `json:"error"`
}

// PipelineResult is the outcome of processing one event.
type PipelineResult struct {
	Requests []queue.Request `json:"requests"`
	Intents  []TradeIntent   `json:"intents"`
	Errors   []HookError     `json:"errors"`
}

// StateProvider supplies the agent state snapshot hooks evaluate against.
type StateProvider func(agentID string) map[string]any

// Pipeline fans feed events out to the registered hooks and collects the
// resulting agent requests and trade intents.
type Pipeline struct {
	registry  *hooks.Registry
	evaluator *hooks.Evaluator
	state     StateProvider
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. state may be nil, in which case hooks see
// an empty state map.
func NewPipeline(registry *hooks.Registry, evaluator *hooks.Evaluator, state StateProvider) *Pipeline {
	return &Pipeline{
		registry:  registry,
		evaluator: evaluator,
		state:     state,
		logger:    slog.With("component", "feed_pipeline"),
	}
}

// Process runs every hook subscribed to the event's topic.
func (p *Pipeline) Process(ctx context.Context, event Event) PipelineResult {
	result := PipelineResult{
		Requests: []queue.Request{},
		Intents:  []TradeIntent{},
		Errors:   []HookError{},
	}

	eventMap := map[string]any{
		"eventId": event.EventID,
		"topic":   event.Topic,
		"ts":      event.Ts,
	}
	for key, value := range event.Fields {
		eventMap[key] = value
	}

	for _, hook := range p.registry.ForTopic(event.Topic) {
		state := map[string]any{}
		if p.state != nil {
			state = p.state(hook.AgentID)
		}

		decision, err := p.evaluator.Evaluate(ctx, hook.Expression, eventMap, state)
		if err != nil {
			result.Errors = append(result.Errors, HookError{
				HookID:  hook.HookID,
				AgentID: hook.AgentID,
				Error:   err.Error(),
			})
			p.logger.Warn("Hook evaluation failed",
				"hook_id", hook.HookID, "agent_id", hook.AgentID, "error", err)
			continue
		}

		switch decision["decision"] {
		case hooks.DecisionWake:
			if hook.HookType != hooks.TypeWake {
				continue
			}
			result.Requests = append(result.Requests, wakeRequest(hook, event, decision))
		case hooks.DecisionTradeIntent:
			if hook.HookType != hooks.TypeAutotrade && hook.HookType != hooks.TypeCopytrade {
				continue
			}
			intent, _ := decision["intent"].(map[string]any)
			result.Intents = append(result.Intents, TradeIntent{
				HookID:  hook.HookID,
				AgentID: hook.AgentID,
				Intent:  intent,
			})
		}
	}
	return result
}

func wakeRequest(hook hooks.Registration, event Event, decision map[string]any) queue.Request {
	reason, _ := decision["reason"].(string)
	dedupeKey, _ := decision["dedupeKey"].(string)
	return queue.Request{
		RequestID: fmt.Sprintf("ar_%s_%s", event.EventID, hook.HookID),
		AgentID:   hook.AgentID,
		Kind:      "hook_trigger",
		Priority:  queue.PriorityNormal,
		DedupeKey: dedupeKey,
		Payload: map[string]any{
			"reason":         reason,
			"triggerEventId": event.EventID,
			"triggerTopic":   event.Topic,
			"triggerTs":      event.Ts,
		},
	}
}
