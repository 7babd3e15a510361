package stream

// Usage holds cumulative token counters for one invocation. Providers report
// usage as cumulative snapshots (or terminal-event metadata), never as running
// deltas, so adapters replace these values wholesale rather than summing.
type Usage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	CacheRead   int64 `json:"cache_read"`
	CacheWrite  int64 `json:"cache_write"`
	TotalTokens int64 `json:"total_tokens,omitempty"`
	Cost        Cost  `json:"cost"`
}

// Cost is the monetary breakdown derived from Usage and a model's pricing.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
	Total      float64 `json:"total"`
}

// Pricing lists a model's USD prices per million tokens.
type Pricing struct {
	Input      float64 `json:"input" yaml:"input"`
	Output     float64 `json:"output" yaml:"output"`
	CacheRead  float64 `json:"cache-read" yaml:"cache-read"`
	CacheWrite float64 `json:"cache-write" yaml:"cache-write"`
}

const tokensPerPriceUnit = 1_000_000

// ComputeCost recomputes the cost breakdown from the current counters.
// Missing counters are zero and contribute nothing.
func (u *Usage) ComputeCost(p Pricing) {
	u.Cost.Input = float64(u.Input) * p.Input / tokensPerPriceUnit
	u.Cost.Output = float64(u.Output) * p.Output / tokensPerPriceUnit
	u.Cost.CacheRead = float64(u.CacheRead) * p.CacheRead / tokensPerPriceUnit
	u.Cost.CacheWrite = float64(u.CacheWrite) * p.CacheWrite / tokensPerPriceUnit
	u.Cost.Total = u.Cost.Input + u.Cost.Output + u.Cost.CacheRead + u.Cost.CacheWrite
}
