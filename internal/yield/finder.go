package yield

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Angleito/nyxusd-sub000/internal/observability"
)

const (
	// DefaultMinSafetyScore filters out pools scoring below 60/100.
	DefaultMinSafetyScore = 60

	// DefaultMaxResults caps the ranked output.
	DefaultMaxResults = 20

	// DefaultChain is the chain the engine deploys collateral on.
	DefaultChain = "Base"
)

// Protocol reputation tiers.
var (
	tier1Protocols = map[string]bool{"aerodrome": true, "uniswap": true, "aave": true, "moonwell": true}
	tier2Protocols = map[string]bool{"compound": true, "curve": true, "balancer": true, "sushiswap": true}
)

var (
	apyWeight   = decimal.NewFromFloat(0.7)
	scoreWeight = decimal.NewFromFloat(0.3)

	tvl10M  = decimal.NewFromInt(10_000_000)
	tvl50M  = decimal.NewFromInt(50_000_000)
	tvl100M = decimal.NewFromInt(100_000_000)

	apy5   = decimal.NewFromInt(5)
	apy30  = decimal.NewFromInt(30)
	apy50  = decimal.NewFromInt(50)
	apy100 = decimal.NewFromInt(100)
)

// Finder scores and ranks pools fetched by the client.
type Finder struct {
	client         *Client
	chain          string
	minSafetyScore int
	maxResults     int
	metrics        *observability.Metrics
	log            zerolog.Logger
}

func NewFinder(client *Client, chain string, metrics *observability.Metrics, log zerolog.Logger) *Finder {
	if chain == "" {
		chain = DefaultChain
	}
	return &Finder{
		client:         client,
		chain:          chain,
		minSafetyScore: DefaultMinSafetyScore,
		maxResults:     DefaultMaxResults,
		metrics:        metrics,
		log:            log,
	}
}

// Score computes the five-part safety breakdown for one pool.
func Score(p Pool) ScoreBreakdown {
	var b ScoreBreakdown

	// TVL score, 0-30.
	switch {
	case p.TVLUSD.GreaterThanOrEqual(tvl100M):
		b.TVLScore = 30
	case p.TVLUSD.GreaterThanOrEqual(tvl50M):
		b.TVLScore = 20
	case p.TVLUSD.GreaterThanOrEqual(tvl10M):
		b.TVLScore = 10
	}

	// Protocol reputation, 0-25.
	project := strings.ToLower(p.Project)
	switch {
	case tier1Protocols[project]:
		b.ProtocolScore = 25
	case tier2Protocols[project]:
		b.ProtocolScore = 20
	}

	// Yield reasonableness, 0-20: suspiciously high APY scores low.
	switch {
	case p.APY.GreaterThanOrEqual(apy5) && p.APY.LessThan(apy30):
		b.YieldScore = 20
	case p.APY.GreaterThanOrEqual(apy30) && p.APY.LessThan(apy50):
		b.YieldScore = 10
	case p.APY.GreaterThanOrEqual(apy50) && p.APY.LessThan(apy100):
		b.YieldScore = 5
	}

	// Stability, 0-15: TVL stands in for pool age.
	switch {
	case p.TVLUSD.GreaterThanOrEqual(tvl50M):
		b.StabilityScore = 15
	case p.TVLUSD.GreaterThanOrEqual(tvl10M):
		b.StabilityScore = 10
	default:
		b.StabilityScore = 5
	}

	// Liquidity health, 0-10.
	switch {
	case p.TVLUSD.GreaterThanOrEqual(tvl100M):
		b.LiquidityScore = 10
	case p.TVLUSD.GreaterThanOrEqual(tvl50M):
		b.LiquidityScore = 7
	default:
		b.LiquidityScore = 3
	}

	return b
}

// RiskLevelFor buckets a safety score.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskVeryLow
	case score >= 60:
		return RiskLow
	case score >= 40:
		return RiskMedium
	case score >= 20:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

// rank orders safe pools by 0.7*APY + 0.3*safety, highest first.
func rank(p Pool) decimal.Decimal {
	return p.APY.Mul(apyWeight).Add(decimal.NewFromInt(int64(p.SafetyScore)).Mul(scoreWeight))
}

// TopYields scans the chain and returns the ranked safe pools.
func (f *Finder) TopYields(ctx context.Context) (Result, error) {
	pools, cacheHit, err := f.client.FetchPools(ctx, f.chain)
	if f.metrics != nil {
		f.metrics.YieldScans.Inc()
		if cacheHit {
			f.metrics.YieldCacheHits.Inc()
		} else if err == nil {
			f.metrics.YieldCacheMisses.Inc()
		}
	}
	if err != nil {
		if f.metrics != nil {
			f.metrics.YieldScanErrors.Inc()
		}
		return Result{}, err
	}

	safe := make([]Pool, 0, len(pools))
	for _, p := range pools {
		p.SafetyScore = Score(p).Total()
		p.RiskLevel = RiskLevelFor(p.SafetyScore)
		if p.SafetyScore >= f.minSafetyScore {
			safe = append(safe, p)
		}
	}

	sort.Slice(safe, func(i, j int) bool {
		return rank(safe[i]).GreaterThan(rank(safe[j]))
	})

	top := safe
	if len(top) > f.maxResults {
		top = top[:f.maxResults]
	}

	summary := Summary{
		TotalPoolsAnalyzed: len(pools),
		SafePoolsFound:     len(safe),
		MinSafetyScoreUsed: f.minSafetyScore,
		Chain:              f.chain,
	}
	if len(safe) > 0 {
		highest := safe[0].APY
		sum := decimal.Zero
		for _, p := range safe {
			if p.APY.GreaterThan(highest) {
				highest = p.APY
			}
			sum = sum.Add(p.APY)
		}
		summary.HighestSafeYield = highest.Round(2)
		summary.AverageSafeYield = sum.Div(decimal.NewFromInt(int64(len(safe)))).Round(2)
	}

	f.log.Info().
		Int("analyzed", len(pools)).
		Int("safe", len(safe)).
		Bool("cache_hit", cacheHit).
		Msg("yield scan complete")

	return Result{
		TopYields: top,
		Summary:   summary,
		Warnings:  ScanWarnings,
		CacheHit:  cacheHit,
	}, nil
}
