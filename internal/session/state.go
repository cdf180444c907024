// Package session holds the per-user conversational state: an append-only
// message history with a trailing window, plus the profile, persona, domain,
// style, model and tool selection that shape the prompt.
//
// A State is owned by exactly one session and is not safe for concurrent use;
// callers that share it across goroutines must serialize access.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a history role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one history entry. Entries are never modified once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Profile describes the user. Name and Expertise are free-form.
type Profile struct {
	Name           string `json:"name"`
	Expertise      string `json:"expertise"`
	PreferredStyle Style  `json:"preferred_style"`
}

// Rating is a 1..5 score the user gave the conversation.
type Rating struct {
	Score int       `json:"score"`
	At    time.Time `json:"at"`
}

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// State is the mutable state of one chat session.
type State struct {
	id        string
	startedAt time.Time
	now       func() time.Time

	history []Message
	profile Profile
	domain  Domain
	persona Persona
	model   Model
	tools   map[Tool]struct{}
	ratings []Rating
}

// Option configures a new State.
type Option func(*State)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProfile replaces the generated placeholder profile. An invalid or
// empty preferred style falls back to Professional.
func WithProfile(p Profile) Option {
	return func(s *State) {
		if !p.PreferredStyle.Valid() {
			p.PreferredStyle = StyleProfessional
		}
		s.profile = p
	}
}

// WithModel selects the initial model. Unsupported models are ignored.
func WithModel(m Model) Option {
	return func(s *State) {
		if m.Valid() {
			s.model = m
		}
	}
}

// New creates a session with default settings and a random placeholder profile.
func New(opts ...Option) *State {
	s := &State{
		id:  uuid.NewString(),
		now: time.Now,
		profile: Profile{
			Name:           gofakeit.Name(),
			Expertise:      gofakeit.JobTitle(),
			PreferredStyle: StyleProfessional,
		},
		domain:  DomainGeneral,
		persona: PersonaHelpfulExpert,
		model:   DefaultModel,
		tools: map[Tool]struct{}{
			ToolWebSearch:       {},
			ToolCodeInterpreter: {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s
}

// ID returns the session identifier.
func (s *State) ID() string { return s.id }

// StartedAt returns the creation time of the session.
func (s *State) StartedAt() time.Time { return s.startedAt }

// Profile returns a copy of the user profile.
func (s *State) Profile() Profile { return s.profile }

// Domain returns the active knowledge domain.
func (s *State) Domain() Domain { return s.domain }

// Persona returns the active persona.
func (s *State) Persona() Persona { return s.persona }

// Style returns the preferred response style.
func (s *State) Style() Style { return s.profile.PreferredStyle }

// Model returns the selected model.
func (s *State) Model() Model { return s.model }

// Tools returns the active tools in catalog order.
func (s *State) Tools() []Tool {
	out := make([]Tool, 0, len(s.tools))
	for _, t := range Tools {
		if _, ok := s.tools[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Ratings returns a copy of the recorded ratings.
func (s *State) Ratings() []Rating {
	out := make([]Rating, len(s.ratings))
	copy(out, s.ratings)
	return out
}

// Len returns the number of messages in the history.
func (s *State) Len() int { return len(s.history) }

// Append adds a message stamped with the current time to the end of the history.
func (s *State) Append(role Role, content string) error {
	if !role.Valid() {
		return &InvalidOptionError{Field: "role", Value: string(role)}
	}
	s.history = append(s.history, Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	})
	return nil
}

// History returns a copy of the full history in insertion order.
func (s *State) History() []Message {
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Window returns the last k messages (fewer if the history is shorter) in
// their original order. k <= 0 yields an empty slice.
func (s *State) Window(k int) []Message {
	if k <= 0 {
		return []Message{}
	}
	start := len(s.history) - k
	if start < 0 {
		start = 0
	}
	out := make([]Message, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// Search returns the messages whose content contains term, case-insensitively.
// An empty term returns the whole history.
func (s *State) Search(term string) []Message {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return s.History()
	}
	var out []Message
	for _, m := range s.history {
		if strings.Contains(strings.ToLower(m.Content), term) {
			out = append(out, m)
		}
	}
	return out
}

// SetDomain replaces the knowledge domain.
func (s *State) SetDomain(d Domain) error {
	if !d.Valid() {
		return &InvalidOptionError{Field: "domain", Value: string(d)}
	}
	s.domain = d
	return nil
}

// SetPersona replaces the persona.
func (s *State) SetPersona(p Persona) error {
	if !p.Valid() {
		return &InvalidOptionError{Field: "persona", Value: string(p)}
	}
	s.persona = p
	return nil
}

// SetStyle replaces the profile's preferred response style.
func (s *State) SetStyle(st Style) error {
	if !st.Valid() {
		return &InvalidOptionError{Field: "preferred_style", Value: string(st)}
	}
	s.profile.PreferredStyle = st
	return nil
}

// SetModel replaces the selected model.
func (s *State) SetModel(m Model) error {
	if !m.Valid() {
		return &InvalidOptionError{Field: "model", Value: string(m)}
	}
	s.model = m
	return nil
}

// SetTools replaces the active tool set. Every entry must be in the catalog;
// otherwise nothing changes. Duplicates collapse.
func (s *State) SetTools(ts []Tool) error {
	next := make(map[Tool]struct{}, len(ts))
	for _, t := range ts {
		if !t.Valid() {
			return &InvalidOptionError{Field: "tools", Value: string(t)}
		}
		next[t] = struct{}{}
	}
	s.tools = next
	return nil
}

// Rate records a conversation rating.
func (s *State) Rate(score int) error {
	if score < MinRating || score > MaxRating {
		return &InvalidOptionError{Field: "rating", Value: fmt.Sprint(score)}
	}
	s.ratings = append(s.ratings, Rating{Score: score, At: s.now()})
	return nil
}
