package genai

// USD per million tokens, input/output.
type modelPrice struct {
	in  float64
	out float64
}

var modelPrices = map[string]modelPrice{
	"gpt-4o-mini": {in: 0.15, out: 0.60},
	"gpt-4o":      {in: 2.50, out: 10.00},
}

// EstimateCost returns the USD cost of one generation call. Unknown models
// cost zero.
func EstimateCost(model string, u Usage) float64 {
	price, ok := modelPrices[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)/1e6*price.in + float64(u.CompletionTokens)/1e6*price.out
}
