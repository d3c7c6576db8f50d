package domain

// Recommendation is the opaque output of an upstream scoring engine
// (rule-based or model-based — the strategy treats both the same).
type Recommendation struct {
	ShouldTrade bool
	Side        Side    // meaningful only when ShouldTrade
	Confidence  float64 // 0–100
	SizeShares  float64
	Reasons     []string
}
