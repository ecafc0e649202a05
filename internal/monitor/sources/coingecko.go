package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainpulse/defi-monitor/internal/config"
	"github.com/chainpulse/defi-monitor/internal/monitor"
)

const (
	coingeckoAPI = "https://api.coingecko.com/api/v3"

	// Free-tier budget; the demo API key raises it but 30/min is safe either way.
	coingeckoRequestsPerMin = 30

	// How long to back off after a 429 before the single retry.
	coingeckoCoolOff = 60 * time.Second
)

// CoinGecko polls USD price, 24h change and market cap for watched tokens.
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	coolOff time.Duration

	mu     sync.RWMutex
	tokens []config.Token
}

func NewCoinGecko(logger *slog.Logger, apiKey string, tokens []config.Token) *CoinGecko {
	return &CoinGecko{
		baseURL: coingeckoAPI,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/coingeckoRequestsPerMin), 1),
		logger:  logger,
		coolOff: coingeckoCoolOff,
		tokens:  tokens,
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }
func (c *CoinGecko) URL() string  { return "https://www.coingecko.com" }

// SetTokens swaps the polled token set on hot reload.
func (c *CoinGecko) SetTokens(tokens []config.Token) {
	c.mu.Lock()
	c.tokens = tokens
	c.mu.Unlock()
}

func (c *CoinGecko) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	retried := false
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "defi-monitor/1.0")
		if c.apiKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("coingecko API: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && !retried {
			resp.Body.Close()
			c.logger.Warn("coingecko rate limit hit, backing off", "cooloff", c.coolOff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.coolOff):
			}
			retried = true
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("coingecko API status: %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode coingecko: %w", err)
		}
		return nil
	}
}

// SimplePrices fetches USD price, 24h change and market cap for a set of
// CoinGecko coin ids in a single request. The inner maps hold whichever of
// "usd", "usd_24h_change" and "usd_market_cap" the API returned.
func (c *CoinGecko) SimplePrices(ctx context.Context, ids []string) (map[string]map[string]float64, error) {
	endpoint := fmt.Sprintf(
		"/simple/price?ids=%s&vs_currencies=usd&include_24hr_change=true&include_market_cap=true",
		strings.Join(ids, ","))

	var out map[string]map[string]float64
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CoinGecko) FetchSnapshot(ctx context.Context) (*monitor.Snapshot, error) {
	c.mu.RLock()
	tokens := c.tokens
	c.mu.RUnlock()

	if len(tokens) == 0 {
		return nil, fmt.Errorf("no coingecko tokens configured")
	}

	ids := make([]string, 0, len(tokens))
	for _, t := range tokens {
		ids = append(ids, t.CoinGeckoID)
	}

	prices, err := c.SimplePrices(ctx, ids)
	if err != nil {
		return nil, err
	}

	metrics := make(map[string]float64)
	for _, t := range tokens {
		entry, ok := prices[t.CoinGeckoID]
		if !ok {
			c.logger.Warn("coingecko returned no data for coin", "id", t.CoinGeckoID)
			continue
		}
		price, ok := entry["usd"]
		if !ok {
			continue
		}
		metrics[t.Symbol] = price
		if change, ok := entry["usd_24h_change"]; ok {
			metrics[t.Symbol+":change24h"] = change
		}
		if mcap, ok := entry["usd_market_cap"]; ok {
			metrics[t.Symbol+":mcap"] = mcap
		}
	}

	if len(metrics) == 0 {
		return nil, fmt.Errorf("no coingecko prices returned")
	}

	return &monitor.Snapshot{
		Source:    c.Name(),
		Metrics:   metrics,
		FetchedAt: time.Now().UTC(),
	}, nil
}
