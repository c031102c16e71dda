package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Manager owns every agent queue and serializes all admission operations
// behind a single mutex. State changes are persisted through the snapshot
// store after every mutation so a restart resumes where the process left off.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*agentQueue
	store  *SnapshotStore
	logger *slog.Logger
	nowMs  func() int64
}

// NewManager creates a queue manager backed by the given snapshot store.
// Previously persisted queues are loaded immediately; a missing or corrupt
// snapshot file starts the manager empty.
func NewManager(store *SnapshotStore) *Manager {
	m := &Manager{
		queues: map[string]*agentQueue{},
		store:  store,
		logger: slog.With("component", "queue_manager"),
		nowMs:  func() int64 { return time.Now().UnixMilli() },
	}
	for agentID, snap := range store.Load() {
		m.queues[agentID] = queueFromSnapshot(snap)
	}
	return m
}

// Configure sets the queue settings for an agent, creating the queue if it
// does not exist yet. Mode changes apply to subsequent enqueues only.
func (m *Manager) Configure(agentID string, settings Settings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queueLocked(agentID)
	q.settings = settings
	m.logger.Info("Queue configured",
		"agent_id", agentID,
		"mode", settings.Mode,
		"capacity", settings.Capacity)
	return m.persistLocked()
}

// Enqueue admits a request into its agent's queue and returns the admission
// outcome.
func (m *Manager) Enqueue(request Request) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queueLocked(request.AgentID)
	outcome := q.enqueue(request, m.nowMs())

	m.logger.Info("Request admitted",
		"agent_id", request.AgentID,
		"request_id", request.RequestID,
		"decision", outcome.Decision)
	if err := m.persistLocked(); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// FlushCollect flushes the collect buffers of every agent whose debounce
// window has elapsed and admits each batch into its queue. The admitted
// batches are returned together with their admission outcomes.
func (m *Manager) FlushCollect() ([]FlushedBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowMs()
	flushed := []FlushedBatch{}
	for _, agentID := range sortedAgentIDs(m.queues) {
		q := m.queues[agentID]
		batch := q.flushCollect(now)
		if batch == nil {
			continue
		}
		// The batch re-enters admission like any other request. The queue is
		// in collect mode, so run it directly when idle or append otherwise.
		var outcome Outcome
		if q.active == nil {
			q.active = batch
			outcome = Outcome{Decision: DecisionRunNow}
		} else {
			q.pending = append(q.pending, *batch)
			outcome = Outcome{Decision: DecisionEnqueued}
		}
		flushed = append(flushed, FlushedBatch{Batch: *batch, Outcome: outcome})
		m.logger.Info("Collect buffer flushed", "agent_id", agentID, "request_id", batch.RequestID)
	}
	if len(flushed) == 0 {
		return flushed, nil
	}
	return flushed, m.persistLocked()
}

// FlushedBatch pairs a collect batch with the admission outcome it received.
type FlushedBatch struct {
	Batch   Request `json:"batch"`
	Outcome Outcome `json:"outcome"`
}

// MarkActiveComplete finishes the active request for an agent, promoting the
// next pending request if any. Returns the promoted request or nil.
func (m *Manager) MarkActiveComplete(agentID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[agentID]
	if !ok {
		return nil, nil
	}
	next := q.markActiveComplete()
	if next != nil {
		m.logger.Info("Pending request promoted", "agent_id", agentID, "request_id", next.RequestID)
	}
	return next, m.persistLocked()
}

// Status reports the observable queue state for one agent.
func (m *Manager) Status(agentID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[agentID]
	if !ok {
		settings := DefaultSettings()
		return Status{AgentID: agentID, Mode: settings.Mode}
	}
	status := Status{
		AgentID:            agentID,
		Mode:               q.settings.Mode,
		PendingCount:       len(q.pending),
		CollectBufferCount: len(q.collectBuffer),
	}
	if q.active != nil {
		status.ActiveRequestID = &q.active.RequestID
	}
	return status
}

// Status is the wire payload for agent.queue.status.
type Status struct {
	AgentID            string  `json:"agentId"`
	Mode               string  `json:"mode"`
	ActiveRequestID    *string `json:"activeRequestId"`
	PendingCount       int     `json:"pendingCount"`
	CollectBufferCount int     `json:"collectBufferCount"`
}

// Snapshots returns a copy of every queue's state keyed by agent id.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snaps := make(map[string]Snapshot, len(m.queues))
	for agentID, q := range m.queues {
		snaps[agentID] = q.snapshot()
	}
	return snaps
}

func (m *Manager) queueLocked(agentID string) *agentQueue {
	q, ok := m.queues[agentID]
	if !ok {
		q = newAgentQueue(DefaultSettings())
		m.queues[agentID] = q
	}
	return q
}

func (m *Manager) persistLocked() error {
	snaps := make(map[string]Snapshot, len(m.queues))
	for agentID, q := range m.queues {
		snaps[agentID] = q.snapshot()
	}
	if err := m.store.Save(snaps); err != nil {
		return fmt.Errorf("failed to persist queue snapshots: %w", err)
	}
	return nil
}

func validateSettings(settings Settings) error {
	switch settings.Mode {
	case ModeFollowup, ModeInterrupt, ModeSteerBacklog, ModeCollect, ModeQueue:
	default:
		return fmt.Errorf("unknown queue mode: %s", settings.Mode)
	}
	switch settings.DropPolicy {
	case DropOld, DropNew:
	default:
		return fmt.Errorf("unknown drop policy: %s", settings.DropPolicy)
	}
	if settings.Capacity < 1 {
		return fmt.Errorf("queue capacity must be at least 1, got %d", settings.Capacity)
	}
	if settings.DebounceMs < 0 {
		return fmt.Errorf("debounce must not be negative, got %d", settings.DebounceMs)
	}
	return nil
}
