package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Minute

// OpenAICompat talks to any /v1/chat/completions endpoint. It is the only
// production Client; everything else in the system treats providers as an
// opaque capability behind the interface.
type OpenAICompat struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewFromEnv builds a client from MGX_LLM_BASE_URL and MGX_LLM_API_KEY.
func NewFromEnv() (*OpenAICompat, error) {
	base := strings.TrimRight(strings.TrimSpace(os.Getenv("MGX_LLM_BASE_URL")), "/")
	key := strings.TrimSpace(os.Getenv("MGX_LLM_API_KEY"))
	if base == "" {
		base = "https://api.openai.com"
	}
	if key == "" {
		return nil, &Error{Kind: KindInvalid, Message: "MGX_LLM_API_KEY is not set"}
	}
	return &OpenAICompat{BaseURL: base, APIKey: key, HTTP: &http.Client{Timeout: 0}}, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAICompat) Complete(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	reqCtx, cancel := ctx, func() {}
	if _, ok := ctx.Deadline(); !ok {
		reqCtx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
	}
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, &Error{Kind: KindInvalid, Message: "encode request", Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Kind: KindInvalid, Message: "build request", Wrapped: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return Response{}, &Error{Kind: KindTimeout, Message: "request deadline exceeded", Wrapped: err}
		}
		return Response{}, &Error{Kind: KindUnavailable, Message: "transport failure", Wrapped: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Response{}, &Error{Kind: KindUnavailable, Message: "read response", Wrapped: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, &Error{Kind: KindRateLimit, Message: "rate limited"}
	case resp.StatusCode >= 500:
		return Response{}, &Error{Kind: KindUnavailable, Message: fmt.Sprintf("upstream %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return Response{}, &Error{Kind: KindInvalid, Message: fmt.Sprintf("upstream %d: %s", resp.StatusCode, truncate(string(raw), 200))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, &Error{Kind: KindUnavailable, Message: "decode response", Wrapped: err}
	}
	if parsed.Error != nil {
		return Response{}, &Error{Kind: KindUnavailable, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Response{}, &Error{Kind: KindEmptyOutput, Message: "no completion choices"}
	}

	out := Response{
		Text:         parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if out.Usage.TotalTokens == 0 {
		out.Usage.PromptTokens = EstimateTokens(PromptText(req.Messages))
		out.Usage.CompletionTokens = EstimateTokens(out.Text)
		out.Usage.TotalTokens = out.Usage.PromptTokens + out.Usage.CompletionTokens
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
