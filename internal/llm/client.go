// Package llm defines the narrow text-in/text-out capability the orchestrator
// consumes. Concrete providers live behind the Client interface; the core
// never imports a provider SDK.
package llm

import (
	"context"
	"fmt"
	"strings"
)

type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request is a single completion request. Capability is a semantic tag
// ("analyze", "plan", "code", "test", "review") used for routing and for
// cache-key construction; it never changes the wire call.
type Request struct {
	Model       string
	Capability  string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return &Error{Kind: KindInvalid, Message: "request has no messages"}
	}
	for i, m := range r.Messages {
		if strings.TrimSpace(m.Content) == "" {
			return &Error{Kind: KindInvalid, Message: fmt.Sprintf("message %d has empty content", i)}
		}
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return &Error{Kind: KindInvalid, Message: fmt.Sprintf("message %d has unknown role %q", i, m.Role)}
		}
	}
	return nil
}

// TokenUsage mirrors provider accounting. Totals are provider-reported when
// available, otherwise estimated from text length.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Text         string
	Model        string
	FinishReason string
	Usage        TokenUsage
}

// Client is the opaque LLM capability. Complete blocks; callers pass a
// context for cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// EstimateTokens is a crude chars/4 heuristic used when a provider does not
// report usage. Good enough for budget accounting, never for billing.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// PromptText flattens messages into a stable, order-preserving string for
// cache fingerprinting. Whitespace is not normalized: two prompts that
// differ only in whitespace fingerprint differently.
func PromptText(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteByte('\x1f')
		b.WriteString(m.Content)
		b.WriteByte('\x1e')
	}
	return b.String()
}
