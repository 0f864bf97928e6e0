package models

// TokenUsage represents token consumption reported for a single provider
// call. CachedInputTokens is the subset of InputTokens served from the
// provider's prompt cache and billed at the discounted rate.
type TokenUsage struct {
	InputTokens       int     `json:"input_tokens"`
	OutputTokens      int     `json:"output_tokens"`
	CachedInputTokens int     `json:"cached_input_tokens"`
	CostUSD           float64 `json:"cost_usd"`
}

// TotalTokens is the sum of input and output tokens.
func (u TokenUsage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}
