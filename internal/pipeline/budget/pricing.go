package budget

import "strings"

// Pricing converts token units into currency. Rates are per 1,000 units,
// matching how providers publish per-mille prices.
type Pricing struct {
	InputPerMille  float64 `json:"input_per_mille" yaml:"input_per_mille"`
	OutputPerMille float64 `json:"output_per_mille" yaml:"output_per_mille"`
}

// Cost returns the currency cost for the given unit counts.
func (p Pricing) Cost(inputUnits, outputUnits int) float64 {
	if inputUnits < 0 {
		inputUnits = 0
	}
	if outputUnits < 0 {
		outputUnits = 0
	}
	return float64(inputUnits)/1000.0*p.InputPerMille + float64(outputUnits)/1000.0*p.OutputPerMille
}

// PriceBook maps a provider (or provider/model) key to its pricing. Lookup
// falls back from "provider/model" to "provider" to the default entry.
type PriceBook struct {
	Default Pricing
	Rates   map[string]Pricing
}

func (pb PriceBook) For(provider, model string) Pricing {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.ToLower(strings.TrimSpace(model))
	if pb.Rates != nil {
		if model != "" {
			if p, ok := pb.Rates[provider+"/"+model]; ok {
				return p
			}
		}
		if p, ok := pb.Rates[provider]; ok {
			return p
		}
	}
	return pb.Default
}
