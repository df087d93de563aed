package engine

import (
	"strings"
	"testing"
)

func TestParseConfig_DefaultsAndValidation(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
project: shop
workspace: /tmp/shop
logs_root: /tmp/shop-logs
budget:
  cap_units: 25
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Entity != "item" {
		t.Fatalf("default entity: %q", cfg.Entity)
	}
	if cfg.Quality.Threshold != 6 {
		t.Fatalf("default threshold: %d", cfg.Quality.Threshold)
	}
	if cfg.Agent.Provider != "openai" {
		t.Fatalf("default provider: %q", cfg.Agent.Provider)
	}
	if cfg.Retry.BackoffFactor != 2.0 || cfg.Retry.InitialDelayMS != 200 {
		t.Fatalf("default retry: %+v", cfg.Retry)
	}
	if cfg.Budget.Pricing.InputPerMille == 0 {
		t.Fatal("default pricing not applied")
	}
}

func TestParseConfig_RejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig([]byte(`
project: shop
budget:
  cap_units: 25
  cap_unit: 30
`))
	if err == nil || !strings.Contains(err.Error(), "cap_unit") {
		t.Fatalf("unknown key accepted: %v", err)
	}
}

func TestParseConfig_RequiredFields(t *testing.T) {
	if _, err := ParseConfig([]byte("budget:\n  cap_units: 10\n")); err == nil {
		t.Fatal("missing project accepted")
	}
	if _, err := ParseConfig([]byte("project: shop\n")); err == nil {
		t.Fatal("zero budget accepted")
	}
	if _, err := ParseConfig([]byte("project: shop\nbudget:\n  cap_units: 10\nquality:\n  threshold: 11\n")); err == nil {
		t.Fatal("out-of-range threshold accepted")
	}
}

func TestConfigPriceBookFallback(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
project: shop
budget:
  cap_units: 25
  pricing:
    input_per_mille: 0.5
    output_per_mille: 1.5
  rates:
    openai/gpt-5:
      input_per_mille: 2.0
      output_per_mille: 6.0
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	pb := cfg.PriceBook()
	if p := pb.For("openai", "gpt-5"); p.InputPerMille != 2.0 {
		t.Fatalf("model rate: %+v", p)
	}
	if p := pb.For("anthropic", "sonnet"); p.InputPerMille != 0.5 {
		t.Fatalf("fallback rate: %+v", p)
	}
}
