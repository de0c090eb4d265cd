package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type moderationClient interface {
	Moderations(ctx context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAIGate asks the OpenAI moderation endpoint and blocks flagged text.
type OpenAIGate struct {
	client moderationClient
	model  string
}

func NewOpenAIGate(client moderationClient, model string) *OpenAIGate {
	return &OpenAIGate{client: client, model: model}
}

func (g *OpenAIGate) Moderate(ctx context.Context, text string) (Decision, error) {
	resp, err := g.client.Moderations(ctx, openai.ModerationRequest{
		Input: strings.TrimSpace(text),
		Model: g.model,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("openai moderation: %w", err)
	}
	if len(resp.Results) == 0 {
		return Decision{}, fmt.Errorf("openai moderation: empty result")
	}

	res := resp.Results[0]
	if !res.Flagged {
		return Allow, nil
	}

	category, score := topCategory(res.CategoryScores)
	return Block(fmt.Sprintf("Blocked as %s (score=%.2f)", category, score)), nil
}

// topCategory reads the scores through their JSON names so new categories
// need no code change.
func topCategory(scores openai.ResultCategoryScores) (string, float64) {
	raw, err := json.Marshal(scores)
	if err != nil {
		return "flagged", 0
	}
	var m map[string]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return "flagged", 0
	}

	best, bestScore := "flagged", 0.0
	for name, s := range m {
		if s > bestScore || (s > 0 && s == bestScore && name < best) {
			best, bestScore = name, s
		}
	}
	return best, bestScore
}
