package agent

import (
	"fmt"
	"testing"
)

func TestFromHTTPStatus_Classification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
		rateLimit bool
	}{
		{400, false, false},
		{401, false, false},
		{413, false, false},
		{429, false, true},
		{500, true, false},
		{503, true, false},
		{418, true, false},
	}
	for _, tc := range cases {
		err := FromHTTPStatus("anthropic", tc.status, "boom")
		if got := IsRetryable(err); got != tc.retryable {
			t.Fatalf("status %d: IsRetryable got %v want %v", tc.status, got, tc.retryable)
		}
		if got := IsRateLimited(err); got != tc.rateLimit {
			t.Fatalf("status %d: IsRateLimited got %v want %v", tc.status, got, tc.rateLimit)
		}
	}
}

func TestIsRateLimited_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("step handler: %w", NewRateLimitError("openai", "slow down", nil))
	if !IsRateLimited(err) {
		t.Fatalf("wrapped rate limit not detected")
	}
	if IsRateLimited(fmt.Errorf("plain failure")) {
		t.Fatalf("plain error misclassified as rate limit")
	}
}

func TestRequestValidate(t *testing.T) {
	if err := (Request{Prompt: "hi"}).Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}
	if err := (Request{}).Validate(); err == nil {
		t.Fatalf("empty prompt accepted")
	}
	if err := (Request{Prompt: "hi", MaxOutUnits: -1}).Validate(); err == nil {
		t.Fatalf("negative max output accepted")
	}
}
