// Package moderation decides whether a chat message may be posted.
package moderation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"punch-chat/internal/config"
	"punch-chat/pkg/logger"

	"github.com/sashabaranov/go-openai"
)

type Decision struct {
	Allowed bool
	Reason  string
}

var Allow = Decision{Allowed: true}

func Block(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

type Gate interface {
	Moderate(ctx context.Context, text string) (Decision, error)
}

type GateFunc func(ctx context.Context, text string) (Decision, error)

func (f GateFunc) Moderate(ctx context.Context, text string) (Decision, error) {
	return f(ctx, text)
}

// AllowAll is used when moderation is disabled.
var AllowAll Gate = GateFunc(func(context.Context, string) (Decision, error) {
	return Allow, nil
})

// New builds the gate named by cfg.Provider.
func New(cfg config.ModerationConfig, ai config.OpenAIConfig) (Gate, error) {
	switch cfg.Provider {
	case "", "none":
		return AllowAll, nil
	case "keywords":
		return NewKeywordGate(cfg.BlockedWords), nil
	case "openai":
		if ai.APIKey == "" {
			return nil, fmt.Errorf("moderation provider openai requires OPENAI_API_KEY")
		}
		return NewOpenAIGate(openai.NewClient(ai.APIKey), ai.ModerationModel), nil
	default:
		return nil, fmt.Errorf("unknown moderation provider %q", cfg.Provider)
	}
}

// KeywordGate blocks whole-word, case-insensitive matches of a word list.
type KeywordGate struct {
	re *regexp.Regexp
}

func NewKeywordGate(words []string) *KeywordGate {
	var quoted []string
	for _, w := range words {
		if w = strings.TrimSpace(w); w != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
		}
	}
	if len(quoted) == 0 {
		return &KeywordGate{}
	}
	return &KeywordGate{re: regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)}
}

func (g *KeywordGate) Moderate(_ context.Context, text string) (Decision, error) {
	if g.re == nil {
		return Allow, nil
	}
	if m := g.re.FindString(text); m != "" {
		return Block(fmt.Sprintf("contains blocked term %q", strings.ToLower(m))), nil
	}
	return Allow, nil
}

// FailOpen bounds gate by timeout and turns any gate failure into Allow.
// onFailure may be nil. Cancellation of the caller's context is still
// returned as an error so an abandoned post is not persisted.
func FailOpen(gate Gate, timeout time.Duration, onFailure func(error)) Gate {
	return &failOpen{gate: gate, timeout: timeout, onFailure: onFailure}
}

type failOpen struct {
	gate      Gate
	timeout   time.Duration
	onFailure func(error)
}

type result struct {
	d   Decision
	err error
}

func (f *failOpen) Moderate(ctx context.Context, text string) (Decision, error) {
	if strings.TrimSpace(text) == "" {
		return Allow, nil
	}

	gctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		d, err := f.gate.Moderate(gctx, text)
		done <- result{d, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-gctx.Done():
		r.err = gctx.Err()
	}

	if r.err == nil {
		return r.d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}

	logger.Warn("moderation.gate_failed", "err", r.err, "timeout", f.timeout)
	if f.onFailure != nil {
		f.onFailure(r.err)
	}
	return Allow, nil
}
