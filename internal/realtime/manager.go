// Package realtime pushes resource status transitions to connected clients.
// Ingestion is asynchronous, so clients watch a resource channel instead of
// polling the REST surface.
package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/models"
)

const (
	// replayDepth is how many recent events a new subscriber receives, so a
	// client connecting after a fast ingest still sees the transitions.
	replayDepth = 64

	subscriberBuffer = 16
)

// Event is one status transition on a resource.
type Event struct {
	ResourceID   string                `json:"resourceId"`
	CollectionID string                `json:"collectionId,omitempty"`
	Status       models.ResourceStatus `json:"status"`
	Message      string                `json:"message,omitempty"`
	Timestamp    time.Time             `json:"ts"`
}

type topicState struct {
	ring        []Event
	subscribers map[int]chan Event
}

// Manager fans events out to in-process subscribers per resource topic.
type Manager struct {
	mu     sync.Mutex
	topics map[string]*topicState
	nextID int
	log    *zap.Logger
}

// NewManager builds an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{topics: make(map[string]*topicState), log: logger}
}

// Publish appends an event to the resource's ring and delivers it to live
// subscribers. Slow subscribers are skipped, never blocked on.
func (m *Manager) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.topics[ev.ResourceID]
	if st == nil {
		st = &topicState{subscribers: make(map[int]chan Event)}
		m.topics[ev.ResourceID] = st
	}
	st.ring = append(st.ring, ev)
	if len(st.ring) > replayDepth {
		st.ring = st.ring[len(st.ring)-replayDepth:]
	}
	for id, ch := range st.subscribers {
		select {
		case ch <- ev:
		default:
			m.log.Debug("Dropping event for slow subscriber",
				zap.String("resource_id", ev.ResourceID), zap.Int("subscriber", id))
		}
	}
}

// Subscribe attaches to a resource topic. The returned channel first yields
// the replay ring, then live events. Cancel releases the subscription.
func (m *Manager) Subscribe(resourceID string) (<-chan Event, func()) {
	m.mu.Lock()
	st := m.topics[resourceID]
	if st == nil {
		st = &topicState{subscribers: make(map[int]chan Event)}
		m.topics[resourceID] = st
	}
	id := m.nextID
	m.nextID++
	ch := make(chan Event, subscriberBuffer+len(st.ring))
	for _, ev := range st.ring {
		ch <- ev
	}
	st.subscribers[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if st, ok := m.topics[resourceID]; ok {
			if ch, ok := st.subscribers[id]; ok {
				delete(st.subscribers, id)
				close(ch)
			}
			if len(st.subscribers) == 0 && len(st.ring) == 0 {
				delete(m.topics, resourceID)
			}
		}
	}
	return ch, cancel
}
