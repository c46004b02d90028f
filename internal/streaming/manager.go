// Package streaming provides an in-memory progress-event broadcaster that
// the Orchestrator wires into a Workflow Engine's ProgressFunc so that
// multiple observers (CLI output, a test harness, a future transport) can
// watch one workflow run without coupling the engine to any of them.
//
// There is no persistence layer here: a workflow run lives entirely in one
// process's memory, so a process restart loses in-flight subscriptions
// along with everything else the run was tracking.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one progress notification for a workflow run.
type Event struct {
	WorkflowID string                 `json:"workflow_id"`
	TaskID     string                 `json:"task_id,omitempty"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Seq        uint64                 `json:"seq"`
}

// Marshal returns the JSON encoding of an event, for callers that forward
// it over their own transport.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

const defaultBuffer = 64

// Manager fans out Events published for a workflowID to every subscriber
// currently watching that workflow. All methods are goroutine-safe.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	seq         map[string]uint64
	buffer      int
	logger      *zap.Logger
}

// NewManager constructs a Manager. buffer sets the per-subscriber channel
// capacity; pass 0 to use a sensible default.
func NewManager(buffer int, logger *zap.Logger) *Manager {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		seq:         make(map[string]uint64),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe returns a channel that receives every Event published for
// workflowID from this point forward. The caller must call Unsubscribe
// when done; Manager owns closing the channel.
func (m *Manager) Subscribe(workflowID string) chan Event {
	ch := make(chan Event, m.buffer)

	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[workflowID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[workflowID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch from workflowID's subscriber set and closes it.
func (m *Manager) Unsubscribe(workflowID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, ok := m.subscribers[workflowID]
	if !ok {
		return
	}
	if _, exists := subs[ch]; !exists {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(m.subscribers, workflowID)
		delete(m.seq, workflowID)
	}
}

// Publish delivers evt to every current subscriber of evt.WorkflowID,
// stamping it with a per-workflow monotonic sequence number. A slow
// subscriber has events dropped rather than blocking the publisher.
func (m *Manager) Publish(evt Event) {
	m.mu.Lock()
	m.seq[evt.WorkflowID]++
	evt.Seq = m.seq[evt.WorkflowID]
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	// The lock is held through the non-blocking sends so that Unsubscribe
	// cannot close a channel while it is being sent on.
	defer m.mu.Unlock()

	for ch := range m.subscribers[evt.WorkflowID] {
		select {
		case ch <- evt:
		default:
			m.logger.Warn("streaming subscriber is slow, dropping event",
				zap.String("workflow_id", evt.WorkflowID),
				zap.String("type", evt.Type),
			)
		}
	}
}

// UnsubscribeAll closes and removes every subscriber of workflowID, for
// use once a workflow run has finished and no more events will arrive.
func (m *Manager) UnsubscribeAll(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subscribers[workflowID] {
		close(ch)
	}
	delete(m.subscribers, workflowID)
	delete(m.seq, workflowID)
}
