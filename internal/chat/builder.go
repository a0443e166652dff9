package chat

import (
	"github.com/google/uuid"

	"github.com/uchat-ai/uchat/internal/provider"
	"github.com/uchat-ai/uchat/internal/transcript"
)

// continuationInstruction biases the provider toward resuming the
// truncated answer instead of restarting it. The provider owns not
// repeating the cutoff point; the reducer performs no de-duplication.
const continuationInstruction = "Continue your previous answer exactly where it stopped. " +
	"Do not repeat any text you have already produced and do not add any preamble."

// buildFullHistory assembles the fresh-turn request: the system
// instruction followed by the whole completed transcript. The trailing
// streaming placeholder is skipped.
func buildFullHistory(systemPrompt, model string, sessionID uuid.UUID, history []transcript.Message) provider.Request {
	messages := make([]provider.ChatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		messages = append(messages, provider.ChatMessage{
			Role:    provider.RoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		if !m.Complete {
			continue
		}
		messages = append(messages, provider.ChatMessage{
			Role:    string(m.Role),
			Content: m.Text,
		})
	}
	return provider.Request{
		SessionID: sessionID.String(),
		Model:     model,
		Messages:  messages,
	}
}

// buildContinuation assembles the reduced continuation context: the
// continue-seamlessly instruction, the last user message, and the
// truncated assistant output. Sending the full history here biases
// providers toward restarting; the reduced shape biases them toward
// resuming.
func buildContinuation(model string, sessionID uuid.UUID, lastUser, truncated string) provider.Request {
	return provider.Request{
		SessionID: sessionID.String(),
		Model:     model,
		Messages: []provider.ChatMessage{
			{Role: provider.RoleSystem, Content: continuationInstruction},
			{Role: provider.RoleUser, Content: lastUser},
			{Role: provider.RoleAssistant, Content: truncated},
		},
	}
}
