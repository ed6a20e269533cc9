// Package agentstate keeps the brief-analyzer agent's session state: chat
// messages, the extracted brief and the project the session is bound to.
//
// Every field except CurrentProjectID belongs to that project. Readers must
// check BelongsTo before trusting any of it.
package agentstate

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/project-builder/internal/canvas"
)

// Message is one chat message.
type Message struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// SuggestionChip is a follow-up question the agent proposes.
type SuggestionChip struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Field    string `json:"field"`
	Priority string `json:"priority"`
}

// State is a snapshot of one agent session.
type State struct {
	Messages         []Message        `json:"messages"`
	ExtractedBrief   canvas.Brief     `json:"extracted_brief"`
	Completeness     int              `json:"completeness"`
	ProjectType      string           `json:"project_type,omitempty"`
	SuggestionChips  []SuggestionChip `json:"suggestion_chips"`
	FieldUpdates     []string         `json:"field_updates"`
	CurrentProjectID string           `json:"current_project_id"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.ExtractedBrief = s.ExtractedBrief.Clone()
	out.SuggestionChips = append([]SuggestionChip(nil), s.SuggestionChips...)
	out.FieldUpdates = append([]string(nil), s.FieldUpdates...)
	return out
}

// Patch is a partial update. Nil fields are left alone. ExtractedBrief is
// merged key by key; a key with a nil value is removed. FieldUpdates append.
type Patch struct {
	Messages         []Message        `json:"messages,omitempty"`
	ExtractedBrief   canvas.Brief     `json:"extracted_brief,omitempty"`
	Completeness     *int             `json:"completeness,omitempty"`
	ProjectType      *string          `json:"project_type,omitempty"`
	SuggestionChips  []SuggestionChip `json:"suggestion_chips,omitempty"`
	FieldUpdates     []string         `json:"field_updates,omitempty"`
	CurrentProjectID *string          `json:"current_project_id,omitempty"`
}

// BelongsTo reports whether s was produced for projectID.
func BelongsTo(s *State, projectID string) bool {
	return s != nil && projectID != "" && s.CurrentProjectID == projectID
}

// Store is the narrow read/write surface over agent sessions.
type Store interface {
	Read(sessionID string) (State, bool)
	Write(sessionID string, p Patch) State
	Bind(sessionID, projectID string) State
}

// Memory is an in-process Store holding the most recently used sessions.
type Memory struct {
	mu       sync.Mutex
	sessions *lru.Cache[string, State]
	logger   zerolog.Logger
}

// NewMemory creates a store that keeps at most size sessions.
func NewMemory(size int, logger zerolog.Logger) *Memory {
	if size < 1 {
		size = 1024
	}
	cache, _ := lru.New[string, State](size)
	return &Memory{
		sessions: cache,
		logger:   logger.With().Str("component", "agentstate").Logger(),
	}
}

// Read returns a copy of the session state.
func (m *Memory) Read(sessionID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return State{}, false
	}
	return s.Clone(), true
}

// Write applies p and returns the resulting snapshot.
func (m *Memory) Write(sessionID string, p Patch) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, _ := m.sessions.Get(sessionID)
	s = s.Clone()

	if p.CurrentProjectID != nil && *p.CurrentProjectID != s.CurrentProjectID {
		m.logger.Debug().
			Str("session", sessionID).
			Str("from", s.CurrentProjectID).
			Str("to", *p.CurrentProjectID).
			Msg("session rebound by write")
		s.CurrentProjectID = *p.CurrentProjectID
	}
	if p.Messages != nil {
		s.Messages = append([]Message(nil), p.Messages...)
	}
	if p.ExtractedBrief != nil {
		if s.ExtractedBrief == nil {
			s.ExtractedBrief = make(canvas.Brief, len(p.ExtractedBrief))
		}
		for k, v := range p.ExtractedBrief.Clone() {
			if v == nil {
				delete(s.ExtractedBrief, k)
				continue
			}
			s.ExtractedBrief[k] = v
		}
	}
	if p.Completeness != nil {
		s.Completeness = *p.Completeness
	}
	if p.ProjectType != nil {
		s.ProjectType = *p.ProjectType
	}
	if p.SuggestionChips != nil {
		s.SuggestionChips = append([]SuggestionChip(nil), p.SuggestionChips...)
	}
	if len(p.FieldUpdates) > 0 {
		s.FieldUpdates = append(s.FieldUpdates, p.FieldUpdates...)
	}

	m.sessions.Add(sessionID, s)
	return s.Clone()
}

// Bind points the session at projectID. Content extracted for another
// project is discarded; a session already bound to projectID is untouched.
func (m *Memory) Bind(sessionID, projectID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions.Get(sessionID)
	if ok && s.CurrentProjectID == projectID {
		return s.Clone()
	}
	if ok {
		m.logger.Info().
			Str("session", sessionID).
			Str("from", s.CurrentProjectID).
			Str("to", projectID).
			Msg("discarding agent state of previous project")
	}
	fresh := State{CurrentProjectID: projectID}
	m.sessions.Add(sessionID, fresh)
	return fresh.Clone()
}

// Len returns the number of tracked sessions.
func (m *Memory) Len() int {
	return m.sessions.Len()
}
