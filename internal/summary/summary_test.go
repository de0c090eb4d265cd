package summary

import (
	"context"
	"errors"
	"testing"

	"punch-chat/internal/config"
	"punch-chat/internal/models"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	calls int
	req   openai.ChatCompletionRequest
	resp  openai.ChatCompletionResponse
	err   error
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.req = req
	return f.resp, f.err
}

func reply(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{
		Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
	}}}
}

var transcript = []models.TranscriptLine{
	{Username: "alice", Content: "ship friday?"},
	{Username: "bob", Content: "yes"},
}

func TestOpenAISummarizer_Summarize(t *testing.T) {
	fake := &fakeChat{resp: reply("  They agreed to ship on Friday.  ")}
	s := NewOpenAISummarizer(fake, "gpt-4o-mini")

	got, err := s.Summarize(context.Background(), transcript, StyleDetailed)
	require.NoError(t, err)
	assert.Equal(t, "They agreed to ship on Friday.", got)

	assert.Equal(t, "gpt-4o-mini", fake.req.Model)
	assert.Equal(t, 300, fake.req.MaxTokens)
	assert.InDelta(t, 0.3, fake.req.Temperature, 0.0001)
	require.Len(t, fake.req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, fake.req.Messages[0].Role)
	assert.Contains(t, fake.req.Messages[1].Content, "detailed summary")
	assert.Contains(t, fake.req.Messages[1].Content, "alice: ship friday?\nbob: yes")
}

func TestOpenAISummarizer_EmptySkipsModel(t *testing.T) {
	fake := &fakeChat{}
	got, err := NewOpenAISummarizer(fake, "m").Summarize(context.Background(), nil, StyleShort)
	require.NoError(t, err)
	assert.Equal(t, EmptyTranscript, got)
	assert.Zero(t, fake.calls)
}

func TestOpenAISummarizer_Errors(t *testing.T) {
	_, err := NewOpenAISummarizer(&fakeChat{err: errors.New("429")}, "m").Summarize(context.Background(), transcript, StyleShort)
	assert.Error(t, err)

	_, err = NewOpenAISummarizer(&fakeChat{}, "m").Summarize(context.Background(), transcript, StyleShort)
	assert.Error(t, err)
}

func TestBuildPrompt_UnknownStyleFallsBackToShort(t *testing.T) {
	p := BuildPrompt(transcript, "haiku")
	assert.Contains(t, p, "short 2-3 sentence summary")
}

func TestUnavailable(t *testing.T) {
	got, err := Unavailable{}.Summarize(context.Background(), nil, StyleShort)
	require.NoError(t, err)
	assert.Equal(t, EmptyTranscript, got)

	_, err = Unavailable{}.Summarize(context.Background(), transcript, StyleShort)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew(t *testing.T) {
	assert.IsType(t, Unavailable{}, New(config.OpenAIConfig{}))
	assert.IsType(t, &OpenAISummarizer{}, New(config.OpenAIConfig{APIKey: "sk-test", SummaryModel: "gpt-4o-mini"}))
}
