// Package realtime fans brief change events out to per-project subscribers.
package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types mirror the database change that caused them.
const (
	TypeInsert = "INSERT"
	TypeUpdate = "UPDATE"
)

// Tables an event can refer to.
const (
	TableBriefs = "briefs"
	TableCases  = "cases"
)

// Event is one stored change of a project. For brief events Record carries
// the full new brief row, so a consumer can replace its snapshot without
// refetching.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	ProjectID string         `json:"project_id"`
	Record    map[string]any `json:"record"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent stamps a brief event with an id and the current time.
func NewEvent(evType, projectID string, record map[string]any) Event {
	return newEvent(TableBriefs, evType, projectID, record)
}

// NewCaseEvent reports a change of the case row itself.
func NewCaseEvent(projectID string, record map[string]any) Event {
	return newEvent(TableCases, TypeUpdate, projectID, record)
}

func newEvent(table, evType, projectID string, record map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      evType,
		Table:     table,
		ProjectID: projectID,
		Record:    record,
		Timestamp: time.Now().UTC(),
	}
}

// Metrics receives hub counters. *metrics.Metrics satisfies it.
type Metrics interface {
	RealtimePublished()
	SetRealtimeSubscribers(n int)
}

// Subscription receives the events of one project on C until Close.
type Subscription struct {
	C         <-chan Event
	ProjectID string

	ch      chan Event
	hub     *Hub
	once    sync.Once
	dropped atomic.Uint64
}

// Dropped returns how many events were skipped because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is an in-process publish/subscribe bus keyed by project id. Publish
// never blocks: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	total  int
	buffer int
	closed bool

	metrics Metrics
	logger  zerolog.Logger
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, m Metrics, logger zerolog.Logger) *Hub {
	if buffer < 1 {
		buffer = 16
	}
	return &Hub{
		subs:    make(map[string]map[*Subscription]struct{}),
		buffer:  buffer,
		metrics: m,
		logger:  logger.With().Str("component", "realtime").Logger(),
	}
}

// Subscribe starts receiving events for projectID.
func (h *Hub) Subscribe(projectID string) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ProjectID: projectID, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	set, ok := h.subs[projectID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[projectID] = set
	}
	set[s] = struct{}{}
	h.total++
	h.report()
	h.logger.Debug().Str("project", projectID).Int("subscribers", len(set)).Msg("subscribed")
	return s
}

// Publish delivers ev to every subscriber of ev.ProjectID and returns how
// many received it.
func (h *Hub) Publish(ev Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return 0
	}
	if h.metrics != nil {
		h.metrics.RealtimePublished()
	}

	delivered := 0
	for s := range h.subs[ev.ProjectID] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			s.dropped.Add(1)
			h.logger.Warn().
				Str("project", ev.ProjectID).
				Str("event", ev.ID).
				Msg("subscriber buffer full, dropping event")
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[projectID])
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
	h.total = 0
	h.report()
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.ProjectID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.ProjectID)
	}
	close(s.ch)
	h.total--
	h.report()
}

// report must be called with mu held.
func (h *Hub) report() {
	if h.metrics != nil {
		h.metrics.SetRealtimeSubscribers(h.total)
	}
}
