// Package prompt turns session state into completion requests and folds
// provider replies back into the session history.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/gene-chat/internal/session"
)

// Roles used in completion requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sampling temperatures. Creative sessions run warmer.
const (
	DefaultTemperature  float32 = 0.3
	CreativeTemperature float32 = 0.7
)

// annotationFormat is appended to every absorbed reply: elapsed seconds and
// the display label of the active domain.
const annotationFormat = "\n\n*[Generated in %.2fs | %s Mode]*"

// Message is a provider-neutral role/content pair.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is what a completion provider receives.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Temperature float32   `json:"temperature"`
	Messages    []Message `json:"messages"`
}

// Reply is a provider answer together with how long the call took.
type Reply struct {
	Text    string
	Elapsed time.Duration
}

// Compose builds the request for a new user message: one system instruction,
// the trailing windowSize history entries, then the new message. It only
// reads state.
func Compose(state *session.State, newUserMessage string, windowSize int) CompletionRequest {
	window := state.Window(windowSize)

	messages := make([]Message, 0, 1+len(window)+1)
	messages = append(messages, Message{
		Role:    RoleSystem,
		Content: SystemInstruction(state.Domain(), state.Persona(), state.Style(), state.Tools()),
	})
	for _, m := range window {
		messages = append(messages, Message{Role: string(m.Role), Content: m.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: newUserMessage})

	return CompletionRequest{
		Model:       string(state.Model()),
		Temperature: Temperature(state.Domain()),
		Messages:    messages,
	}
}

// Temperature returns the sampling temperature for a domain.
func Temperature(d session.Domain) float32 {
	if d == session.DomainCreative {
		return CreativeTemperature
	}
	return DefaultTemperature
}

// SystemInstruction renders the system prompt. Tools are listed in the order
// given; State.Tools already returns catalog order.
func SystemInstruction(d session.Domain, p session.Persona, st session.Style, tools []session.Tool) string {
	labels := make([]string, len(tools))
	for i, t := range tools {
		labels[i] = t.Label()
	}
	toolText := strings.Join(labels, ", ")
	if toolText == "" {
		toolText = defaultAssets.noTools
	}

	var b strings.Builder
	err := defaultAssets.system.Execute(&b, struct {
		Domain, Tools, Persona, Style string
	}{
		Domain:  d.Label(),
		Tools:   toolText,
		Persona: p.Label(),
		Style:   st.Label(),
	})
	if err != nil {
		slog.Error("Failed to render system instruction", "domain", d, "error", err)
	}

	if suffix, _ := DomainSuffix(d); suffix != "" {
		b.WriteString("\n")
		b.WriteString(suffix)
	}
	return b.String()
}

// DomainSuffix looks up the extra instruction for a domain. Known domains
// without a suffix return ("", true); unknown domains return ("", false) and
// the instruction is built without a suffix.
func DomainSuffix(d session.Domain) (string, bool) {
	s, ok := defaultAssets.suffixes[d]
	return s, ok
}

// Annotate appends the timing and domain metadata to a reply.
func Annotate(text string, elapsed time.Duration, d session.Domain) string {
	return text + fmt.Sprintf(annotationFormat, elapsed.Seconds(), d.Label())
}

// AbsorbReply appends the annotated provider reply to the history as one
// assistant message.
func AbsorbReply(state *session.State, reply Reply) error {
	return state.Append(session.RoleAssistant, Annotate(reply.Text, reply.Elapsed, state.Domain()))
}

// Enhance rewrites a query to ask for a more thorough answer.
func Enhance(query string) string {
	var b strings.Builder
	if err := defaultAssets.enhance.Execute(&b, struct{ Query string }{Query: query}); err != nil {
		slog.Error("Failed to render enhanced query", "error", err)
		return query
	}
	return b.String()
}
