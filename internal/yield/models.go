// Package yield scans DeFiLlama for yield opportunities on a target chain
// and ranks them by a safety-weighted score. Operators use it to pick venues
// for idle collateral.
package yield

import (
	"github.com/shopspring/decimal"
)

// RiskLevel buckets a pool's safety score.
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "Very Low"
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskVeryHigh RiskLevel = "Very High"
)

// Pool is one yield venue with its computed safety assessment.
type Pool struct {
	Symbol       string          `json:"pool"`
	Project      string          `json:"protocol"`
	APY          decimal.Decimal `json:"apy"`
	TVLUSD       decimal.Decimal `json:"tvl_usd"`
	Chain        string          `json:"chain"`
	PoolID       string          `json:"pool_id"`
	SafetyScore  int             `json:"safety_score"`
	RiskLevel    RiskLevel       `json:"risk_level"`
	StablePool   bool            `json:"is_stable"`
	ILRisk       bool            `json:"has_il_risk"`
	RewardTokens []string        `json:"reward_tokens,omitempty"`
	BaseAPY      decimal.Decimal `json:"base_apy"`
	RewardAPY    decimal.Decimal `json:"reward_apy"`
}

// ScoreBreakdown itemizes the five safety components.
type ScoreBreakdown struct {
	TVLScore       int `json:"tvl_score"`
	ProtocolScore  int `json:"protocol_score"`
	YieldScore     int `json:"yield_score"`
	StabilityScore int `json:"stability_score"`
	LiquidityScore int `json:"liquidity_score"`
}

// Total sums the components: 0-100.
func (b ScoreBreakdown) Total() int {
	return b.TVLScore + b.ProtocolScore + b.YieldScore + b.StabilityScore + b.LiquidityScore
}

// Summary aggregates one scan.
type Summary struct {
	TotalPoolsAnalyzed int             `json:"total_pools_analyzed"`
	SafePoolsFound     int             `json:"safe_pools_found"`
	HighestSafeYield   decimal.Decimal `json:"highest_safe_yield"`
	AverageSafeYield   decimal.Decimal `json:"average_safe_yield"`
	MinSafetyScoreUsed int             `json:"min_safety_score_used"`
	Chain              string          `json:"chain"`
}

// Result is the ranked output of one scan.
type Result struct {
	TopYields []Pool   `json:"top_yields"`
	Summary   Summary  `json:"summary"`
	Warnings  []string `json:"warnings"`
	CacheHit  bool     `json:"cache_hit"`
}

// ScanWarnings accompany every result.
var ScanWarnings = []string{
	"High yield pools carry impermanent loss risk",
	"Always verify smart contract audits",
	"Past performance does not guarantee future results",
	"DeFi investments carry smart contract risk",
}
