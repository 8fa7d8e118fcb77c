package contextbuilder

import (
	"encoding/json"
	"fmt"

	"github.com/chatvault/chatvault/internal/models"
	"github.com/tmc/langchaingo/llms"
)

// Built-in formatter names.
const (
	FormatChat      = "chat"
	FormatText      = "text"
	FormatLangchain = "langchain"
	FormatRaw       = "raw"
)

// contentString projects message content to a string. Structured content is
// rendered as compact JSON (stable: object keys are sorted).
func contentString(content any) string {
	if s, ok := content.(string); ok {
		return s
	}
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprintf("%v", content)
	}
	return string(b)
}

// formatChat renders history as one map per message keyed by role, e.g.
// {"user": "What's the weather?"}, {"ai": "It's sunny!"}.
func formatChat(msgs []models.Message) (any, error) {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{string(m.Role): m.Content})
	}
	return out, nil
}

// formatText renders history as flat "role: content" lines.
func formatText(msgs []models.Message) (any, error) {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Role)+": "+contentString(m.Content))
	}
	return out, nil
}

// formatLangchain renders history as langchaingo message contents, ready to
// feed llms.GenerateContent.
func formatLangchain(msgs []models.Message) (any, error) {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(chatMessageType(m.Role), contentString(m.Content)))
	}
	return out, nil
}

func chatMessageType(role models.ChatRole) llms.ChatMessageType {
	switch role {
	case models.RoleAI:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

// formatRaw returns the messages unchanged.
func formatRaw(msgs []models.Message) (any, error) {
	return msgs, nil
}
