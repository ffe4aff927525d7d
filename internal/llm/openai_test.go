package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatReq() Request {
	return Request{
		Model:      "gpt-4o",
		Capability: "code",
		Messages:   []Message{{Role: "user", Content: "write hello world"}},
	}
}

func TestOpenAICompat_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["model"] != "gpt-4o" {
			t.Errorf("model = %v", body["model"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-2024",
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "print('hello')"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	c := &OpenAICompat{BaseURL: srv.URL, APIKey: "sk-test", HTTP: srv.Client()}
	resp, err := c.Complete(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "print('hello')" || resp.Model != "gpt-4o-2024" || resp.FinishReason != "stop" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestOpenAICompat_UsageEstimatedWhenUnreported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "a long enough completion"}},
			},
		})
	}))
	defer srv.Close()

	c := &OpenAICompat{BaseURL: srv.URL, APIKey: "sk-test", HTTP: srv.Client()}
	resp, err := c.Complete(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Usage.TotalTokens == 0 {
		t.Fatal("usage should be estimated when the provider omits it")
	}
	if resp.Model != "gpt-4o" {
		t.Fatalf("model should fall back to the request model, got %q", resp.Model)
	}
}

func TestOpenAICompat_ErrorKinds(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"rate limited", 429, `{}`, KindRateLimit},
		{"upstream down", 503, `{}`, KindUnavailable},
		{"bad request", 400, `{"error":{"message":"unknown model"}}`, KindInvalid},
		{"empty choices", 200, `{"choices":[]}`, KindEmptyOutput},
		{"blank content", 200, `{"choices":[{"message":{"role":"assistant","content":"  "}}]}`, KindEmptyOutput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := &OpenAICompat{BaseURL: srv.URL, APIKey: "sk-test", HTTP: srv.Client()}
			_, err := c.Complete(context.Background(), chatReq())
			var le *Error
			if !errors.As(err, &le) || le.Kind != tc.kind {
				t.Fatalf("err = %v, want kind %s", err, tc.kind)
			}
		})
	}
}

func TestOpenAICompat_RejectsEmptyRequest(t *testing.T) {
	c := &OpenAICompat{BaseURL: "http://unused", APIKey: "sk-test", HTTP: http.DefaultClient}
	_, err := c.Complete(context.Background(), Request{Model: "m"})
	var le *Error
	if !errors.As(err, &le) || le.Kind != KindInvalid {
		t.Fatalf("err = %v", err)
	}
}
