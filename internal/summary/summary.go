// Package summary turns a room transcript into a short natural-language recap.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"punch-chat/internal/config"
	"punch-chat/internal/models"

	"github.com/sashabaranov/go-openai"
)

const (
	EmptyTranscript = "No messages in this chat yet."

	StyleShort    = "short"
	StyleDetailed = "detailed"

	maxTokens   = 300
	temperature = 0.3

	systemPrompt = "You are an assistant that summarizes chat conversations for users. " +
		"Focus on the main topics, decisions, and action items, not small talk."
)

var ErrNotConfigured = errors.New("summarizer is not configured")

var stylePrompts = map[string]string{
	StyleShort:    "Give a short 2-3 sentence summary.",
	StyleDetailed: "Give a detailed summary with main topics and decisions.",
}

type Summarizer interface {
	Summarize(ctx context.Context, lines []models.TranscriptLine, style string) (string, error)
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAISummarizer struct {
	client chatClient
	model  string
}

func NewOpenAISummarizer(client chatClient, model string) *OpenAISummarizer {
	return &OpenAISummarizer{client: client, model: model}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, lines []models.TranscriptLine, style string) (string, error) {
	if len(lines) == 0 {
		return EmptyTranscript, nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(lines, style)},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// BuildPrompt renders the user turn: style instruction, then the transcript.
func BuildPrompt(lines []models.TranscriptLine, style string) string {
	instruction, ok := stylePrompts[style]
	if !ok {
		instruction = stylePrompts[StyleShort]
	}

	var b strings.Builder
	b.WriteString(instruction)
	b.WriteString("\n\nHere is the chat transcript:\n\n")
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Username)
		b.WriteString(": ")
		b.WriteString(l.Content)
	}
	return b.String()
}

// Unavailable is used when no model credentials are configured.
type Unavailable struct{}

func (Unavailable) Summarize(_ context.Context, lines []models.TranscriptLine, _ string) (string, error) {
	if len(lines) == 0 {
		return EmptyTranscript, nil
	}
	return "", ErrNotConfigured
}

// New picks the OpenAI summarizer when an API key is configured.
func New(cfg config.OpenAIConfig) Summarizer {
	if cfg.APIKey == "" {
		return Unavailable{}
	}
	return NewOpenAISummarizer(openai.NewClient(cfg.APIKey), cfg.SummaryModel)
}
