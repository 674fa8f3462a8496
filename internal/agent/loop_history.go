package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/providers"
)

const defaultSystemPrompt = "You are %s, a helpful participant in a group chat. " +
	"Keep replies short and conversational. If nothing useful can be added, answer with NO_REPLY."

// buildMessages turns tracked chat history into a chat-completions transcript.
// Own messages become assistant turns; everyone else is a user turn tagged
// with the speaker's name so the model can follow a multi-person thread.
func buildMessages(req ReplyRequest, systemPrompt string, historyLimit int) []providers.Message {
	name := req.AgentName
	if name == "" {
		name = req.AgentID
	}
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf(defaultSystemPrompt, name)
	}
	if !req.Message.IsPrivate {
		systemPrompt += "\n\nYou are in a GROUP chat. Each user message starts with the sender's name."
	}

	messages := []providers.Message{{Role: "system", Content: systemPrompt}}

	history := trimCurrent(req.History, req.Message.Text)
	history = limitHistory(history, historyLimit)
	for _, m := range history {
		messages = append(messages, toProviderMessage(m, req.Message.IsPrivate))
	}

	messages = append(messages, toProviderMessage(interest.TrackedMessage{
		UserID:      req.Message.UserID,
		DisplayName: req.Message.DisplayName,
		Text:        req.Message.Text,
	}, req.Message.IsPrivate))

	return mergeConsecutive(messages)
}

func toProviderMessage(m interest.TrackedMessage, private bool) providers.Message {
	if m.Own {
		return providers.Message{Role: "assistant", Content: m.Text}
	}
	if private {
		return providers.Message{Role: "user", Content: m.Text}
	}
	speaker := m.DisplayName
	if speaker == "" {
		speaker = m.UserID
	}
	return providers.Message{Role: "user", Content: speaker + ": " + m.Text}
}

// trimCurrent drops the current message when the engine already tracked it
// as the last history entry.
func trimCurrent(history []interest.TrackedMessage, text string) []interest.TrackedMessage {
	if n := len(history); n > 0 && !history[n-1].Own && history[n-1].Text == text {
		return history[:n-1]
	}
	return history
}

// limitHistory keeps the last limit messages, starting on a user turn so
// the transcript never opens with an assistant reply to nothing.
func limitHistory(msgs []interest.TrackedMessage, limit int) []interest.TrackedMessage {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for len(msgs) > 0 && msgs[0].Own {
		msgs = msgs[1:]
	}
	return msgs
}

// mergeConsecutive joins adjacent turns with the same role; some
// OpenAI-compatible backends reject two user turns in a row.
func mergeConsecutive(msgs []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && m.Role != "system" {
			out[n-1].Content = strings.TrimRight(out[n-1].Content, "\n") + "\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}
