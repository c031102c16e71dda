// Package queue implements per-agent request admission queues.
//
// Each agent owns one queue with a configurable admission mode. A request
// arriving at a queue is admitted according to the mode, the dedupe key, the
// capacity, and the drop policy; the resulting decision is reported to the
// caller verbatim so operators can observe admission behavior.
package queue

import (
	"fmt"
	"sort"
)

// Admission modes.
const (
	ModeFollowup     = "followup"      // append behind the active request
	ModeInterrupt    = "interrupt"     // high priority replaces the active request
	ModeSteerBacklog = "steer-backlog" // like followup; steer hints ride on the payload
	ModeCollect      = "collect"       // buffer and flush as one batch after a debounce
	ModeQueue        = "queue"         // plain FIFO
)

// Drop policies applied when a queue is at capacity.
const (
	DropOld = "old" // evict the oldest pending request
	DropNew = "new" // reject the incoming request
)

// Admission decisions.
const (
	DecisionRunNow     = "run_now"
	DecisionEnqueued   = "enqueued"
	DecisionInterrupt  = "interrupt"
	DecisionCollecting = "collecting"
	DecisionDeduped    = "deduped"
	DecisionDropped    = "dropped"
)

// Request priorities. Only high is special: it preempts in interrupt mode.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Default queue settings applied when an agent has no explicit configuration.
const (
	DefaultMode       = ModeFollowup
	DefaultCapacity   = 50
	DefaultDropPolicy = DropOld
	DefaultDebounceMs = 0
)

// Request is a unit of agent work passing through admission.
type Request struct {
	RequestID string         `json:"requestId"`
	AgentID   string         `json:"agentId"`
	Kind      string         `json:"kind"`
	Priority  string         `json:"priority"`
	DedupeKey string         `json:"dedupeKey,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Settings configures one agent queue.
type Settings struct {
	Mode       string `json:"mode"`
	Capacity   int    `json:"cap"`
	DropPolicy string `json:"dropPolicy"`
	DebounceMs int64  `json:"debounceMs"`
}

// DefaultSettings returns the settings used for agents without explicit
// configuration.
func DefaultSettings() Settings {
	return Settings{
		Mode:       DefaultMode,
		Capacity:   DefaultCapacity,
		DropPolicy: DefaultDropPolicy,
		DebounceMs: DefaultDebounceMs,
	}
}

// Outcome is the result of one enqueue call.
type Outcome struct {
	Decision string `json:"decision"`
	// Reason is set for dropped decisions.
	Reason string `json:"reason,omitempty"`
	// Evicted is the pending request removed under the old drop policy.
	Evicted *Request `json:"evicted,omitempty"`
	// Replaced is the previously active request displaced by an interrupt.
	Replaced *Request `json:"replaced,omitempty"`
}

// agentQueue holds the admission state for a single agent. Callers
// synchronize through Manager; agentQueue itself is not safe for concurrent
// use.
type agentQueue struct {
	settings           Settings
	active             *Request
	pending            []Request
	collectBuffer      []Request
	collectLastEnqueue *int64
}

func newAgentQueue(settings Settings) *agentQueue {
	return &agentQueue{
		settings: settings,
		pending:  []Request{},
	}
}

// enqueue admits a request at the given wall-clock instant (unix millis).
// Admission rules apply in order: dedupe, collect buffering, idle fast path,
// interrupt preemption, capacity enforcement, then append.
func (q *agentQueue) enqueue(request Request, nowMs int64) Outcome {
	if request.DedupeKey != "" && q.hasDedupeKey(request.DedupeKey) {
		return Outcome{Decision: DecisionDeduped}
	}

	if q.settings.Mode == ModeCollect {
		q.collectBuffer = append(q.collectBuffer, request)
		q.collectLastEnqueue = &nowMs
		return Outcome{Decision: DecisionCollecting}
	}

	if q.active == nil {
		q.active = &request
		return Outcome{Decision: DecisionRunNow}
	}

	if q.settings.Mode == ModeInterrupt && request.Priority == PriorityHigh {
		replaced := q.active
		q.active = &request
		return Outcome{Decision: DecisionInterrupt, Replaced: replaced}
	}

	occupied := len(q.pending) + 1 // active slot counts toward capacity
	if occupied >= q.settings.Capacity {
		if q.settings.DropPolicy == DropNew {
			return Outcome{Decision: DecisionDropped, Reason: "queue capacity reached"}
		}
		if len(q.pending) == 0 {
			// Old-drop with nothing pending to evict: reject the newcomer.
			return Outcome{Decision: DecisionDropped, Reason: "queue capacity reached"}
		}
		evicted := q.pending[0]
		q.pending = q.pending[1:]
		q.pending = append(q.pending, request)
		return Outcome{Decision: DecisionEnqueued, Evicted: &evicted}
	}

	q.pending = append(q.pending, request)
	return Outcome{Decision: DecisionEnqueued}
}

// flushCollect emits the buffered batch when the debounce window has
// elapsed. Returns nil when there is nothing to flush yet.
func (q *agentQueue) flushCollect(nowMs int64) *Request {
	if q.settings.Mode != ModeCollect || len(q.collectBuffer) == 0 || q.collectLastEnqueue == nil {
		return nil
	}
	if nowMs-*q.collectLastEnqueue < q.settings.DebounceMs {
		return nil
	}

	requestIDs := make([]string, len(q.collectBuffer))
	for i, buffered := range q.collectBuffer {
		requestIDs[i] = buffered.RequestID
	}
	batch := &Request{
		RequestID: fmt.Sprintf("collected_%d", nowMs),
		AgentID:   q.collectBuffer[0].AgentID,
		Kind:      "collect_batch",
		Priority:  PriorityNormal,
		Payload: map[string]any{
			"requestIds": requestIDs,
			"count":      len(requestIDs),
		},
	}
	q.collectBuffer = nil
	q.collectLastEnqueue = nil
	return batch
}

// markActiveComplete clears the active slot and promotes the head of the
// pending list, returning the promoted request if any.
func (q *agentQueue) markActiveComplete() *Request {
	q.active = nil
	if len(q.pending) == 0 {
		return nil
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.active = &next
	return &next
}

func (q *agentQueue) hasDedupeKey(key string) bool {
	if q.active != nil && q.active.DedupeKey == key {
		return true
	}
	for _, pending := range q.pending {
		if pending.DedupeKey == key {
			return true
		}
	}
	for _, buffered := range q.collectBuffer {
		if buffered.DedupeKey == key {
			return true
		}
	}
	return false
}

// Snapshot is the serializable state of one agent queue.
type Snapshot struct {
	Settings           Settings  `json:"settings"`
	ActiveRequest      *Request  `json:"activeRequest"`
	Pending            []Request `json:"pending"`
	CollectBuffer      []Request `json:"collectBuffer"`
	CollectLastEnqueue *int64    `json:"collectLastEnqueueMs"`
}

func (q *agentQueue) snapshot() Snapshot {
	pending := make([]Request, len(q.pending))
	copy(pending, q.pending)
	buffer := make([]Request, len(q.collectBuffer))
	copy(buffer, q.collectBuffer)

	snap := Snapshot{
		Settings:      q.settings,
		Pending:       pending,
		CollectBuffer: buffer,
	}
	if q.active != nil {
		active := *q.active
		snap.ActiveRequest = &active
	}
	if q.collectLastEnqueue != nil {
		ts := *q.collectLastEnqueue
		snap.CollectLastEnqueue = &ts
	}
	return snap
}

func queueFromSnapshot(snap Snapshot) *agentQueue {
	q := newAgentQueue(snap.Settings)
	q.active = snap.ActiveRequest
	if snap.Pending != nil {
		q.pending = snap.Pending
	}
	q.collectBuffer = snap.CollectBuffer
	q.collectLastEnqueue = snap.CollectLastEnqueue
	return q
}

func sortedAgentIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
