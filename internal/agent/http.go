package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// HTTPInvoker talks to an OpenAI-compatible chat completions endpoint.
type HTTPInvoker struct {
	Provider string
	APIKey   string
	BaseURL  string
	Client   *http.Client
}

func NewHTTPInvoker(provider, apiKey, baseURL string) *HTTPInvoker {
	p := strings.TrimSpace(provider)
	if p == "" {
		p = "openai"
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	return &HTTPInvoker{
		Provider: p,
		APIKey:   strings.TrimSpace(apiKey),
		BaseURL:  base,
		// Avoid short client-level timeouts; rely on request context deadlines instead.
		Client: &http.Client{Timeout: 0},
	}
}

// NewInvokerFromEnv builds an invoker from OPENAI_API_KEY and, optionally,
// OPENAI_BASE_URL for compatible gateways.
func NewInvokerFromEnv() (*HTTPInvoker, error) {
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		return nil, &ConfigurationError{Message: "OPENAI_API_KEY is required"}
	}
	return NewHTTPInvoker("openai", key, os.Getenv("OPENAI_BASE_URL")), nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (a *HTTPInvoker) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 0}
	}

	var messages []map[string]string
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"model":    req.Model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxOutUnits > 0 {
		body["max_tokens"] = req.MaxOutUnits
	}

	b, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	dec := json.NewDecoder(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var raw map[string]any
		_ = dec.Decode(&raw)
		msg := fmt.Sprintf("chat completion failed: %v", raw)
		if resp.StatusCode == 429 {
			ra := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
			return Response{}, NewRateLimitError(a.Provider, msg, ra)
		}
		return Response{}, FromHTTPStatus(a.Provider, resp.StatusCode, msg)
	}

	var cr chatResponse
	if err := dec.Decode(&cr); err != nil {
		return Response{}, fmt.Errorf("agent: decode %s response: %w", a.Provider, err)
	}
	if len(cr.Choices) == 0 {
		return Response{}, fmt.Errorf("agent: %s returned no choices", a.Provider)
	}
	return Response{
		Text: cr.Choices[0].Message.Content,
		Usage: Usage{
			InputUnits:  cr.Usage.PromptTokens,
			OutputUnits: cr.Usage.CompletionTokens,
		},
	}, nil
}

// ParseRetryAfter interprets a Retry-After header as either delta-seconds
// or an HTTP date.
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
