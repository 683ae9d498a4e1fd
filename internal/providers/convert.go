package providers

import "github.com/wolfman30/llm-router/internal/conversation"

// CitationReminder is appended to the final user turn for every backend.
const CitationReminder = "\n\nIf you use information from the documents above, cite them inline as [n] or [n, page: p], where n is the document number and p the page. Do not invent citations."

// turn is the backend-neutral message produced by the shared conversion.
type turn struct {
	Role conversation.Role
	Text string
}

// buildTurns runs the conversion every adapter shares: the most recent
// latestSystemMessage becomes the system turn, system-role messages are
// dropped, and the final user message carries the engineered prompt plus the
// citation reminder. Order is preserved; nothing is merged.
func buildTurns(conv conversation.Conversation) (system string, turns []turn) {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].LatestSystemMessage != "" {
			system = conv.Messages[i].LatestSystemMessage
			break
		}
	}

	lastIdx := len(conv.Messages) - 1
	turns = make([]turn, 0, len(conv.Messages))
	for i, msg := range conv.Messages {
		if msg.Role == conversation.RoleSystem {
			continue
		}
		var text string
		if i == lastIdx && msg.Role == conversation.RoleUser {
			text = msg.FinalPromptEngineeredMessage
			if text == "" {
				text = msg.Content.Text()
			}
			text += CitationReminder
		} else {
			text = msg.Content.Text()
		}
		turns = append(turns, turn{Role: msg.Role, Text: text})
	}
	return system, turns
}

// chatRole maps roles onto the user/assistant pair most backends accept.
// Tool output is replayed as user input.
func chatRole(r conversation.Role) string {
	if r == conversation.RoleAssistant {
		return string(conversation.RoleAssistant)
	}
	return string(conversation.RoleUser)
}
