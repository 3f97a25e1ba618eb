package provider

// priceEntry holds per-million-token USD pricing for one model.
type priceEntry struct {
	InputPerMtok  float64
	OutputPerMtok float64
}

// openAIPricing and its siblings are deliberately small, named tables:
// unknown models fall back to the family default rather than failing.
var openAIPricing = map[string]priceEntry{
	"gpt-4o":      {InputPerMtok: 2.50, OutputPerMtok: 10.00},
	"gpt-4o-mini": {InputPerMtok: 0.15, OutputPerMtok: 0.60},
	"gpt-4.1":     {InputPerMtok: 2.00, OutputPerMtok: 8.00},
}

var openAIDefault = priceEntry{InputPerMtok: 2.50, OutputPerMtok: 10.00}

var claudePricing = map[string]priceEntry{
	"claude-opus-4-1":   {InputPerMtok: 15.00, OutputPerMtok: 75.00},
	"claude-sonnet-4-5": {InputPerMtok: 3.00, OutputPerMtok: 15.00},
	"claude-haiku-4-5":  {InputPerMtok: 0.80, OutputPerMtok: 4.00},
}

var claudeDefault = priceEntry{InputPerMtok: 3.00, OutputPerMtok: 15.00}

var qwenPricing = map[string]priceEntry{
	"qwen-max":  {InputPerMtok: 1.60, OutputPerMtok: 6.40},
	"qwen-plus": {InputPerMtok: 0.40, OutputPerMtok: 1.20},
}

var qwenDefault = priceEntry{InputPerMtok: 0.40, OutputPerMtok: 1.20}

func priceFor(table map[string]priceEntry, fallback priceEntry, model string) priceEntry {
	if p, ok := table[model]; ok {
		return p
	}
	return fallback
}

// cost converts token counts to USD using per-million-token rates,
// mirroring the teacher's CalculateCost (internal/cost/tokens.go).
func cost(p priceEntry, inputTokens, outputTokens int) float64 {
	in := (float64(inputTokens) / 1_000_000.0) * p.InputPerMtok
	out := (float64(outputTokens) / 1_000_000.0) * p.OutputPerMtok
	return in + out
}
