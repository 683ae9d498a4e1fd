// Package conversation holds the normalized chat model every provider adapter consumes.
package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfman30/llm-router/internal/apperr"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// ImageURL points at an image attached to a message.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed element of a multi-part message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Content is either a plain string or an ordered list of typed parts.
// The zero value is an empty string body.
type Content struct {
	text  string
	parts []ContentPart
	multi bool
}

// TextContent builds a plain string body.
func TextContent(s string) Content {
	return Content{text: s}
}

// PartsContent builds a multi-part body.
func PartsContent(parts ...ContentPart) Content {
	cp := make([]ContentPart, len(parts))
	copy(cp, parts)
	return Content{parts: cp, multi: true}
}

// IsParts reports whether the body was given as typed parts.
func (c Content) IsParts() bool { return c.multi }

// Parts returns a copy of the typed parts (nil for string bodies).
func (c Content) Parts() []ContentPart {
	if !c.multi {
		return nil
	}
	cp := make([]ContentPart, len(c.parts))
	copy(cp, c.parts)
	return cp
}

// Text flattens the body: string bodies pass through, part bodies keep only
// text parts joined by newline. Image parts are dropped.
func (c Content) Text() string {
	if !c.multi {
		return c.text
	}
	texts := make([]string, 0, len(c.parts))
	for _, part := range c.parts {
		if part.Type == PartTypeText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.multi {
		if c.parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.parts)
	}
	return json.Marshal(c.text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{parts: parts, multi: true}
		return nil
	default:
		return fmt.Errorf("conversation: content must be a string or an array of parts")
	}
}

// Message is a single turn. LatestSystemMessage and FinalPromptEngineeredMessage
// are populated by the prompt builder on the last user message.
type Message struct {
	ID                           string     `json:"id,omitempty"`
	Role                         Role       `json:"role"`
	Content                      Content    `json:"content"`
	Contexts                     []Context  `json:"contexts,omitempty"`
	LatestSystemMessage          string     `json:"latestSystemMessage,omitempty"`
	FinalPromptEngineeredMessage string     `json:"finalPromtEngineeredMessage,omitempty"`
	Citations                    []Citation `json:"citations,omitempty"`
}

// Model describes the LLM selected for a conversation.
type Model struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TokenLimit int    `json:"tokenLimit"`
	Enabled    bool   `json:"enabled"`
}

// Conversation is the normalized request handed to the router.
type Conversation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Messages    []Message `json:"messages"`
	Model       Model     `json:"model"`
	Prompt      string    `json:"prompt,omitempty"`
	Temperature float64   `json:"temperature"`
	ProjectName string    `json:"projectName,omitempty"`
	UserEmail   string    `json:"userEmail,omitempty"`
}

// Validate fails with an invalid-conversation error when the conversation
// cannot be sent to any provider.
func (c Conversation) Validate() error {
	if len(c.Messages) == 0 {
		return apperr.InvalidConversation("conversation has no messages")
	}
	for i, msg := range c.Messages {
		if !msg.Role.Valid() {
			return apperr.InvalidConversation(fmt.Sprintf("message %d has unknown role %q", i, msg.Role))
		}
	}
	return nil
}

// LastMessage returns the final message. The conversation must be non-empty.
func (c Conversation) LastMessage() Message {
	return c.Messages[len(c.Messages)-1]
}

// Clone deep-copies the conversation so callers can derive a new value
// without touching the input.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	for i, msg := range c.Messages {
		cp := msg
		cp.Content = Content{text: msg.Content.text, parts: msg.Content.Parts(), multi: msg.Content.multi}
		if msg.Contexts != nil {
			cp.Contexts = append([]Context(nil), msg.Contexts...)
		}
		if msg.Citations != nil {
			cp.Citations = append([]Citation(nil), msg.Citations...)
		}
		out.Messages[i] = cp
	}
	return out
}
