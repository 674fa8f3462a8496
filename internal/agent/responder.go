package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/replygate/internal/gating"
	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/providers"
)

// ReplyRequest is the input for generating one reply.
type ReplyRequest struct {
	AgentID   string
	AgentName string
	Message   gating.Message
	History   []interest.TrackedMessage // oldest first, may end with Message
}

// Responder generates reply text for a message the engine decided to answer.
type Responder interface {
	Respond(ctx context.Context, req ReplyRequest) (string, error)
}

// LLMResponder generates replies through a chat-completions provider.
type LLMResponder struct {
	provider     providers.Provider
	model        string
	systemPrompt string
	maxTokens    int
	temperature  *float64
	historyLimit int
}

// LLMResponderConfig configures an LLMResponder.
type LLMResponderConfig struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	HistoryLimit int // history messages sent with each request (0 = all tracked)
}

func NewLLMResponder(p providers.Provider, cfg LLMResponderConfig) *LLMResponder {
	return &LLMResponder{
		provider:     p,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		historyLimit: cfg.HistoryLimit,
	}
}

func (r *LLMResponder) Respond(ctx context.Context, req ReplyRequest) (string, error) {
	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Model:       r.model,
		Messages:    buildMessages(req, r.systemPrompt, r.historyLimit),
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return resp.Content, nil
}
