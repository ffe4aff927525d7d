package llm

import (
	"context"
	"sync"
)

// ScriptedClient replays canned responses per capability, in order. Used by
// tests and by the mgx dry-run mode; it is deliberately deterministic.
type ScriptedClient struct {
	mu      sync.Mutex
	scripts map[string][]string
	cursor  map[string]int
	calls   []Request
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{
		scripts: map[string][]string{},
		cursor:  map[string]int{},
	}
}

// Script appends responses for a capability. Successive Complete calls for
// that capability consume them in order; the last response repeats once the
// script is exhausted.
func (c *ScriptedClient) Script(capability string, responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[capability] = append(c.scripts[capability], responses...)
}

func (c *ScriptedClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, &Error{Kind: KindTimeout, Message: "context done", Wrapped: err}
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	script := c.scripts[req.Capability]
	if len(script) == 0 {
		return Response{}, &Error{Kind: KindEmptyOutput, Message: "no script for capability " + req.Capability}
	}
	i := c.cursor[req.Capability]
	if i >= len(script) {
		i = len(script) - 1
	}
	c.cursor[req.Capability]++
	text := script[i]
	prompt := EstimateTokens(PromptText(req.Messages))
	completion := EstimateTokens(text)
	return Response{
		Text:         text,
		Model:        req.Model,
		FinishReason: "stop",
		Usage: TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

// Calls returns a copy of the requests observed so far.
func (c *ScriptedClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.calls))
	copy(out, c.calls)
	return out
}
