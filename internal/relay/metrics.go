package relay

import (
	"sync"
	"time"
)

// Metrics is the per-connection counter record. Counters are monotonic and
// mutated only by the owning connection's relay; the stats endpoint and the
// metrics-introspection tool read consistent snapshots.
//
// Thread-safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	start             time.Time
	messagesReceived  int64
	messagesSent      int64
	interruptions     int64
	conversationTurns int64
	errors            int64
}

// NewMetrics creates a Metrics record with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{start: time.Now()}
}

// IncrReceived increments the valid-inbound-frame counter.
func (m *Metrics) IncrReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesReceived++
}

// IncrSent increments the outbound-message counter.
func (m *Metrics) IncrSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesSent++
}

// IncrInterruptions increments the interruption counter and returns the new
// total, so callers can report it on the frame that announced it.
func (m *Metrics) IncrInterruptions() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interruptions++
	return m.interruptions
}

// IncrTurns increments the completed-assistant-turn counter and returns the
// new total.
func (m *Metrics) IncrTurns() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversationTurns++
	return m.conversationTurns
}

// IncrErrors increments the error counter.
func (m *Metrics) IncrErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// Turns returns the current completed-turn total.
func (m *Metrics) Turns() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationTurns
}

// StartedAt returns the connection's start time.
func (m *Metrics) StartedAt() time.Time {
	return m.start
}

// Elapsed returns the time since the connection was opened.
func (m *Metrics) Elapsed() time.Duration {
	return time.Since(m.start)
}

// Snapshot is a point-in-time copy of a connection's counters.
type Snapshot struct {
	StartTime         int64 `json:"start_time"`
	MessagesReceived  int64 `json:"messages_received"`
	MessagesSent      int64 `json:"messages_sent"`
	Interruptions     int64 `json:"interruptions"`
	ConversationTurns int64 `json:"conversation_turns"`
	Errors            int64 `json:"errors"`
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		StartTime:         m.start.UnixMilli(),
		MessagesReceived:  m.messagesReceived,
		MessagesSent:      m.messagesSent,
		Interruptions:     m.interruptions,
		ConversationTurns: m.conversationTurns,
		Errors:            m.errors,
	}
}
