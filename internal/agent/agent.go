// Package agent defines the contract between the pipeline and the external
// generative agent. The engine never constructs prompts or interprets model
// output beyond this boundary; it consumes text and usage numbers and
// reacts to the typed error classification.
package agent

import (
	"context"
	"fmt"
	"strings"
)

// Request is one agent invocation.
type Request struct {
	Prompt      string
	System      string
	Provider    string
	Model       string
	Temperature float64
	MaxOutUnits int
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ConfigurationError{Message: "prompt is required"}
	}
	if r.MaxOutUnits < 0 {
		return &ConfigurationError{Message: fmt.Sprintf("max output units must be >= 0, got %d", r.MaxOutUnits)}
	}
	return nil
}

// Usage reports the token units one invocation consumed.
type Usage struct {
	InputUnits  int `json:"input_units"`
	OutputUnits int `json:"output_units"`
}

// Response carries the raw text plus usage for budget accounting.
type Response struct {
	Text  string
	Usage Usage
}

// Invoker performs one generative call. Implementations must return a
// *RateLimitError (directly or wrapped) when the provider rate-limits;
// every layer of the pipeline propagates that condition without retrying.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
