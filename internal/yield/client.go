package yield

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultBaseURL is the DeFiLlama yields API.
	DefaultBaseURL = "https://yields.llama.fi"

	poolsEndpoint  = "/pools"
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	retryDelay     = time.Second

	// maxRequestsPerHour is the upstream courtesy limit.
	maxRequestsPerHour = 100

	cacheTTL     = time.Hour
	cacheEntries = 8
)

// apiPool mirrors DeFiLlama's pool JSON.
type apiPool struct {
	Symbol       string          `json:"symbol"`
	Project      string          `json:"project"`
	Chain        string          `json:"chain"`
	Pool         string          `json:"pool"`
	APY          decimal.Decimal `json:"apy"`
	TVLUSD       decimal.Decimal `json:"tvlUsd"`
	APYBase      decimal.Decimal `json:"apyBase"`
	APYReward    decimal.Decimal `json:"apyReward"`
	ILRisk       string          `json:"ilRisk"`
	Stablecoin   bool            `json:"stablecoin"`
	RewardTokens []string        `json:"rewardTokens"`
}

type poolsResponse struct {
	Data []apiPool `json:"data"`
}

// Client fetches pool data with retries, an hourly request budget and a TTL
// cache keyed by chain.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *expirable.LRU[string, []Pool]
	log     zerolog.Logger

	mu           sync.Mutex
	requestTimes []time.Time
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		cache:   expirable.NewLRU[string, []Pool](cacheEntries, nil, cacheTTL),
		log:     log,
	}
}

// FetchPools returns all pools on one chain. The second return reports
// whether the result came from cache.
func (c *Client) FetchPools(ctx context.Context, chain string) ([]Pool, bool, error) {
	key := strings.ToLower(chain)
	if cached, ok := c.cache.Get(key); ok {
		return cached, true, nil
	}

	if !c.allowRequest(time.Now()) {
		return nil, false, fmt.Errorf("hourly request budget (%d) exhausted", maxRequestsPerHour)
	}

	raw, err := c.fetchAll(ctx)
	if err != nil {
		return nil, false, err
	}

	pools := make([]Pool, 0, 64)
	for _, p := range raw {
		if !strings.EqualFold(p.Chain, chain) {
			continue
		}
		pools = append(pools, Pool{
			Symbol:       p.Symbol,
			Project:      p.Project,
			APY:          p.APY,
			TVLUSD:       p.TVLUSD,
			Chain:        p.Chain,
			PoolID:       p.Pool,
			StablePool:   p.Stablecoin,
			ILRisk:       strings.EqualFold(p.ILRisk, "yes"),
			RewardTokens: p.RewardTokens,
			BaseAPY:      p.APYBase,
			RewardAPY:    p.APYReward,
		})
	}

	c.log.Info().Int("pools", len(pools)).Str("chain", chain).Msg("fetched pools")
	if len(pools) > 0 {
		c.cache.Add(key, pools)
	}
	return pools, false, nil
}

func (c *Client) fetchAll(ctx context.Context) ([]apiPool, error) {
	url := c.baseURL + poolsEndpoint

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}

		var body poolsResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode pools: %w", err)
		}
		return body.Data, nil
	}
	return nil, fmt.Errorf("fetch pools after %d attempts: %w", maxRetries, lastErr)
}

// allowRequest enforces the hourly budget with a sliding window.
func (c *Client) allowRequest(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-time.Hour)
	kept := c.requestTimes[:0]
	for _, t := range c.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.requestTimes = kept

	if len(c.requestTimes) >= maxRequestsPerHour {
		return false
	}
	c.requestTimes = append(c.requestTimes, now)
	return true
}
