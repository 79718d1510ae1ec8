package message

// Usage tracks token and call counters accumulated across a run. Counters
// are additive: each provider response or tool dispatch adds to the
// running totals rather than replacing them.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	ToolCalls    int `json:"tool_calls"`
	Requests     int `json:"requests"`
	Retries      int `json:"retries"`
}

// Add accumulates delta into u in place and returns u for chaining.
func (u *Usage) Add(delta Usage) *Usage {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.TotalTokens += delta.TotalTokens
	u.ToolCalls += delta.ToolCalls
	u.Requests += delta.Requests
	u.Retries += delta.Retries
	return u
}

// AddTokens folds in an input/output token pair, recomputing TotalTokens as
// their sum so the invariant total == input + output always holds for
// tokens tracked this way.
func (u *Usage) AddTokens(input, output int) {
	u.InputTokens += input
	u.OutputTokens += output
	u.TotalTokens = u.InputTokens + u.OutputTokens
}
