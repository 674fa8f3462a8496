// Package classifier asks an LLM whether the agent should reply to an
// ambiguous message. It implements gating.Classifier.
package classifier

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"unicode"

	"github.com/nextlevelbuilder/replygate/internal/gating"
	"github.com/nextlevelbuilder/replygate/internal/providers"
)

// ErrNoVerdict is returned when the model reply names no action.
var ErrNoVerdict = errors.New("classifier: no verdict in reply")

//go:embed prompts/should_respond_system.tmpl
var systemPromptSource string

//go:embed prompts/should_respond_user.tmpl
var userPromptSource string

var (
	systemPromptTemplate = mustParse("should_respond_system", systemPromptSource)
	userPromptTemplate   = mustParse("should_respond_user", userPromptSource)
)

// maxRecent caps the history rendered into the prompt.
const maxRecent = 10

// Options configures a Classifier.
type Options struct {
	Model   string // overrides the provider default
	Profile string // persona text placed in the system prompt
}

// Classifier renders the should-respond prompt and maps the reply to an action.
type Classifier struct {
	provider providers.Provider
	opts     Options
}

// New returns a classifier backed by provider.
func New(provider providers.Provider, opts Options) *Classifier {
	return &Classifier{provider: provider, opts: opts}
}

type systemPromptData struct {
	AgentName string
	Profile   string
}

type promptMessage struct {
	Name string
	Text string
	Own  bool
}

type userPromptData struct {
	AgentName string
	Sender    string
	Text      string
	Recent    []promptMessage
}

// Classify implements gating.Classifier.
func (c *Classifier) Classify(ctx context.Context, req gating.ClassifyRequest) (gating.Action, error) {
	system, user, err := renderPrompts(req, c.opts.Profile)
	if err != nil {
		return gating.Ignore, err
	}

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.opts.Model,
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   8,
		Temperature: providers.Float(0),
	})
	if err != nil {
		return gating.Ignore, fmt.Errorf("classifier request: %w", err)
	}

	action, err := ParseVerdict(resp.Content)
	if err != nil {
		slog.Warn("classifier reply unparsable", "chat_id", req.Message.ChatID, "reply", resp.Content)
		return gating.Ignore, err
	}
	return action, nil
}

func renderPrompts(req gating.ClassifyRequest, profile string) (string, string, error) {
	name := req.AgentName
	if name == "" {
		name = req.AgentID
	}

	system, err := render(systemPromptTemplate, systemPromptData{AgentName: name, Profile: strings.TrimSpace(profile)})
	if err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}

	recent := req.Recent
	if len(recent) > maxRecent {
		recent = recent[len(recent)-maxRecent:]
	}
	data := userPromptData{
		AgentName: name,
		Sender:    displayName(req.Message.DisplayName, req.Message.UserID),
		Text:      req.Message.Text,
		Recent:    make([]promptMessage, 0, len(recent)),
	}
	for _, m := range recent {
		data.Recent = append(data.Recent, promptMessage{
			Name: displayName(m.DisplayName, m.UserID),
			Text: m.Text,
			Own:  m.Own,
		})
	}
	// The current message is already the last tracked entry.
	if n := len(data.Recent); n > 0 && !recent[n-1].Own && recent[n-1].Text == req.Message.Text {
		data.Recent = data.Recent[:n-1]
	}

	user, err := render(userPromptTemplate, data)
	if err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return system, user, nil
}

// ParseVerdict returns the first RESPOND, IGNORE or STOP word in reply.
// Words may be wrapped in brackets or punctuation and are matched
// case-insensitively.
func ParseVerdict(reply string) (gating.Action, error) {
	words := strings.FieldsFunc(reply, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if a, ok := gating.ParseAction(w); ok {
			return a, nil
		}
	}
	return gating.Ignore, ErrNoVerdict
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func mustParse(name, source string) *template.Template {
	return template.Must(template.New(name).Option("missingkey=error").Parse(source))
}

func render(t *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
