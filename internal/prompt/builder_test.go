package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/llm-router/internal/apperr"
	"github.com/wolfman30/llm-router/internal/conversation"
)

func sampleConversation() conversation.Conversation {
	return conversation.Conversation{
		ID:    "conv-1",
		Model: conversation.Model{ID: "gpt-4o-mini", TokenLimit: 128000},
		Messages: []conversation.Message{
			{Role: conversation.RoleSystem, Content: conversation.TextContent("old system")},
			{Role: conversation.RoleUser, Content: conversation.TextContent("What is a monad?")},
			{Role: conversation.RoleAssistant, Content: conversation.TextContent("A monoid in the category of endofunctors.")},
			{Role: conversation.RoleUser, Content: conversation.PartsContent(
				conversation.ContentPart{Type: conversation.PartTypeText, Text: "Explain it simply."},
				conversation.ContentPart{Type: conversation.PartTypeImageURL, ImageURL: &conversation.ImageURL{URL: "https://x/y.png"}},
			)},
		},
	}
}

func sampleContexts() []conversation.Context {
	return []conversation.Context{
		{ReadableFilename: "lecture3.pdf", PageNumber: "12", S3Path: "courses/cs101/lecture3.pdf", Text: "Monads sequence computations."},
		{ReadableFilename: "notes.md", URL: "https://cs101.example/notes", Text: "A monad has bind and return."},
		{ReadableFilename: "talk.mp4", Timestamp: "00:14:02", Text: "Think of it as a pipeline."},
	}
}

func TestBuildPreservesMessagesExceptLast(t *testing.T) {
	conv := sampleConversation()
	out, err := NewBuilder().Build(conv, Settings{}, sampleContexts())
	require.NoError(t, err)

	require.Len(t, out.Messages, len(conv.Messages))
	for i := 0; i < len(conv.Messages)-1; i++ {
		assert.Equal(t, conv.Messages[i], out.Messages[i], "message %d changed", i)
	}
	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, conversation.RoleUser, last.Role)
	assert.Equal(t, "Explain it simply.", last.Content.Text())
	assert.NotEmpty(t, last.FinalPromptEngineeredMessage)

	// input untouched
	assert.Empty(t, conv.Messages[3].FinalPromptEngineeredMessage)
	assert.Empty(t, conv.Messages[3].LatestSystemMessage)
}

func TestBuildDocumentBlockOrderAndCitations(t *testing.T) {
	out, err := NewBuilder().Build(sampleConversation(), Settings{}, sampleContexts())
	require.NoError(t, err)

	last := out.Messages[len(out.Messages)-1]
	final := last.FinalPromptEngineeredMessage

	sysIdx := strings.Index(final, DefaultSystemPrompt)
	docIdx := strings.Index(final, "<Potentially Relevant Documents>")
	qIdx := strings.Index(final, questionHeader+"Explain it simply.")
	require.True(t, sysIdx >= 0 && docIdx > sysIdx && qIdx > docIdx, final)

	one := strings.Index(final, "1: lecture3.pdf, page: 12\nMonads sequence computations.")
	two := strings.Index(final, "2: notes.md, url: https://cs101.example/notes")
	three := strings.Index(final, "3: talk.mp4, timestamp: 00:14:02")
	assert.True(t, one > 0 && two > one && three > two, final)

	require.Len(t, last.Citations, 3)
	assert.Equal(t, conversation.Citation{Index: 1, Key: "courses/cs101/lecture3.pdf", Filename: "lecture3.pdf", Page: "12"}, last.Citations[0])
	assert.Equal(t, "https://cs101.example/notes", last.Citations[1].Key)
	assert.Equal(t, 3, last.Citations[2].Index)
}

func TestBuildOmitsEmptyDocumentBlock(t *testing.T) {
	out, err := NewBuilder().Build(sampleConversation(), Settings{}, nil)
	require.NoError(t, err)

	final := out.Messages[len(out.Messages)-1].FinalPromptEngineeredMessage
	assert.NotContains(t, final, "Potentially Relevant Documents")
	assert.Contains(t, final, questionHeader+"Explain it simply.")
	assert.Nil(t, out.Messages[len(out.Messages)-1].Citations)
}

func TestBuildSystemPromptOnly(t *testing.T) {
	out, err := NewBuilder().Build(sampleConversation(), Settings{SystemPrompt: "Be terse.", SystemPromptOnly: true}, sampleContexts())
	require.NoError(t, err)

	last := out.Messages[len(out.Messages)-1]
	assert.Equal(t, "Be terse.\n\nExplain it simply.", last.FinalPromptEngineeredMessage)
	assert.Equal(t, "Be terse.", last.LatestSystemMessage)
}

func TestBuildLatestSystemMessageFlags(t *testing.T) {
	conv := sampleConversation()
	conv.Prompt = "Conversation prompt."

	out, err := NewBuilder().Build(conv, Settings{GuidedLearning: true, DocumentsOnly: true}, nil)
	require.NoError(t, err)
	sys := out.Messages[len(out.Messages)-1].LatestSystemMessage
	assert.True(t, strings.HasPrefix(sys, "Conversation prompt."))
	assert.Contains(t, sys, GuidedLearningPrompt)
	assert.Contains(t, sys, DocumentsOnlyPrompt)

	out, err = NewBuilder().Build(conv, Settings{SystemPrompt: "Project prompt."}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Project prompt.", out.Messages[len(out.Messages)-1].LatestSystemMessage)
}

func TestBuildTrimsContextsToTokenBudget(t *testing.T) {
	conv := sampleConversation()
	conv.Model.TokenLimit = 1000
	b := &Builder{EstimateTokens: func(s string) int {
		if strings.Contains(s, "notes.md") {
			return 10000
		}
		return 1
	}}

	out, err := b.Build(conv, Settings{}, sampleContexts())
	require.NoError(t, err)

	last := out.Messages[len(out.Messages)-1]
	require.Len(t, last.Citations, 1)
	assert.Contains(t, last.FinalPromptEngineeredMessage, "1: lecture3.pdf")
	assert.NotContains(t, last.FinalPromptEngineeredMessage, "talk.mp4")
}

func TestBuildRejectsEmptyConversation(t *testing.T) {
	_, err := NewBuilder().Build(conversation.Conversation{}, Settings{}, nil)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidConversation, appErr.Kind)
}

func TestBuildRejectsTrailingAssistant(t *testing.T) {
	conv := sampleConversation()
	conv.Messages = conv.Messages[:3]
	_, err := NewBuilder().Build(conv, Settings{}, nil)
	require.Error(t, err)
}
