// Package prompt assembles the engineered prompt that every provider receives.
package prompt

import (
	"fmt"
	"strings"

	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
)

// contextBudgetRatio caps the share of the model window the documents may use.
const contextBudgetRatio = 0.8

// Settings are the project-level inputs to prompt construction.
type Settings struct {
	SystemPrompt     string
	SystemPromptOnly bool
	DocumentsOnly    bool
	GuidedLearning   bool
}

// Builder derives a conversation whose last user message carries the final
// engineered prompt. It is stateless and safe for concurrent use.
type Builder struct {
	// EstimateTokens approximates the token count of s. Defaults to len/4.
	EstimateTokens func(s string) int
}

// NewBuilder returns a Builder with the default token estimate.
func NewBuilder() *Builder {
	return &Builder{EstimateTokens: approxTokens}
}

func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

// SystemInstructions resolves the active system prompt for a conversation.
func SystemInstructions(conv conversation.Conversation, settings Settings) string {
	base := strings.TrimSpace(settings.SystemPrompt)
	if base == "" {
		base = strings.TrimSpace(conv.Prompt)
	}
	if base == "" {
		base = DefaultSystemPrompt
	}
	if settings.GuidedLearning {
		base += GuidedLearningPrompt
	}
	if settings.DocumentsOnly {
		base += DocumentsOnlyPrompt
	}
	return base
}

// Build returns a new conversation; conv is never modified. Only the last
// message gains finalPromtEngineeredMessage, latestSystemMessage and citations.
func (b *Builder) Build(conv conversation.Conversation, settings Settings, contexts []conversation.Context) (conversation.Conversation, error) {
	if err := conv.Validate(); err != nil {
		return conversation.Conversation{}, err
	}
	last := conv.LastMessage()
	if last.Role != conversation.RoleUser {
		return conversation.Conversation{}, apperr.InvalidConversation("the last message must come from the user")
	}

	system := SystemInstructions(conv, settings)
	question := last.Content.Text()

	var final strings.Builder
	final.WriteString(system)
	final.WriteString("\n\n")

	var citations []conversation.Citation
	if !settings.SystemPromptOnly {
		admitted := b.admit(contexts, conv.Model.TokenLimit, system, question)
		if len(admitted) > 0 {
			block, cites := documentBlock(admitted)
			final.WriteString(block)
			citations = cites
		}
		final.WriteString(questionHeader)
	}
	final.WriteString(question)

	out := conv.Clone()
	idx := len(out.Messages) - 1
	out.Messages[idx].FinalPromptEngineeredMessage = final.String()
	out.Messages[idx].LatestSystemMessage = system
	out.Messages[idx].Citations = citations
	return out, nil
}

// admit keeps contexts in rank order until the estimated token budget is spent.
func (b *Builder) admit(contexts []conversation.Context, tokenLimit int, system, question string) []conversation.Context {
	if len(contexts) == 0 {
		return nil
	}
	if tokenLimit <= 0 {
		return contexts
	}
	estimate := b.EstimateTokens
	if estimate == nil {
		estimate = approxTokens
	}
	budget := int(float64(tokenLimit)*contextBudgetRatio) - estimate(system) - estimate(question)
	admitted := make([]conversation.Context, 0, len(contexts))
	for i, ctx := range contexts {
		cost := estimate(documentEntry(i+1, ctx))
		if cost > budget {
			break
		}
		budget -= cost
		admitted = append(admitted, ctx)
	}
	return admitted
}

func documentBlock(contexts []conversation.Context) (string, []conversation.Citation) {
	var b strings.Builder
	b.WriteString(documentsHeader)
	citations := make([]conversation.Citation, 0, len(contexts))
	for i, ctx := range contexts {
		n := i + 1
		b.WriteString(documentEntry(n, ctx))
		citations = append(citations, conversation.Citation{
			Index:    n,
			Key:      ctx.CitationKey(),
			Filename: ctx.ReadableFilename,
			Page:     ctx.PageNumber,
			URL:      ctx.URL,
		})
	}
	b.WriteString(documentsFooter)
	return b.String(), citations
}

func documentEntry(n int, ctx conversation.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d: %s", n, ctx.ReadableFilename)
	if ctx.PageNumber != "" {
		fmt.Fprintf(&b, ", page: %s", ctx.PageNumber)
	}
	if ctx.Timestamp != "" {
		fmt.Fprintf(&b, ", timestamp: %s", ctx.Timestamp)
	}
	if ctx.URL != "" {
		fmt.Fprintf(&b, ", url: %s", ctx.URL)
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(ctx.Text))
	b.WriteString("\n\n")
	return b.String()
}
