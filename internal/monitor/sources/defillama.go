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
	llamaAPI = "https://api.llama.fi"

	// DefiLlama allows a generous request budget; stay well under it.
	llamaRequestsPerMin = 100
)

// ProtocolStats is the subset of GET /protocol/{slug} the monitor reads.
type ProtocolStats struct {
	Name      string  `json:"name"`
	Symbol    string  `json:"symbol"`
	TVL       float64 `json:"tvl"`
	Change1h  float64 `json:"change_1h"`
	Change24h float64 `json:"change_24h"`
	Change7d  float64 `json:"change_7d"`
}

type llamaYieldsResponse struct {
	Data []struct {
		Project string  `json:"project"`
		Pool    string  `json:"pool"`
		APY     float64 `json:"apy"`
	} `json:"data"`
}

type llamaChain struct {
	TVL float64 `json:"tvl"`
}

// ProtocolInfo is one entry from the DefiLlama protocol directory.
type ProtocolInfo struct {
	Name   string  `json:"name"`
	Slug   string  `json:"slug"`
	Symbol string  `json:"symbol"`
	TVL    float64 `json:"tvl"`
}

// DefiLlama polls protocol TVL, pool yields and chain TVL from DefiLlama.
type DefiLlama struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.RWMutex
	protocols []config.Protocol
	chains    []string
}

func NewDefiLlama(logger *slog.Logger, protocols []config.Protocol, chains []string) *DefiLlama {
	return &DefiLlama{
		baseURL:   llamaAPI,
		client:    &http.Client{Timeout: 30 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/llamaRequestsPerMin), 1),
		logger:    logger,
		protocols: protocols,
		chains:    chains,
	}
}

func (d *DefiLlama) Name() string { return "defillama" }
func (d *DefiLlama) URL() string  { return "https://defillama.com" }

// SetWatchlist swaps the polled protocol and chain sets on hot reload.
func (d *DefiLlama) SetWatchlist(protocols []config.Protocol, chains []string) {
	d.mu.Lock()
	d.protocols = protocols
	d.chains = chains
	d.mu.Unlock()
}

func (d *DefiLlama) getJSON(ctx context.Context, endpoint string, out any) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "defi-monitor/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("defillama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("defillama API status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode defillama: %w", err)
	}
	return nil
}

// ProtocolTVL returns the current TVL reading for one protocol slug.
func (d *DefiLlama) ProtocolTVL(ctx context.Context, slug string) (*ProtocolStats, error) {
	var p ProtocolStats
	if err := d.getJSON(ctx, "/protocol/"+slug, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PoolAPYs returns the mean pool APY per project slug across all yield pools.
func (d *DefiLlama) PoolAPYs(ctx context.Context) (map[string]float64, error) {
	var resp llamaYieldsResponse
	if err := d.getJSON(ctx, "/yields", &resp); err != nil {
		return nil, err
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, pool := range resp.Data {
		if pool.APY == 0 {
			continue
		}
		sums[pool.Project] += pool.APY
		counts[pool.Project]++
	}

	apys := make(map[string]float64, len(sums))
	for project, sum := range sums {
		apys[project] = sum / float64(counts[project])
	}
	return apys, nil
}

// ChainTVL returns the total value locked on one chain.
func (d *DefiLlama) ChainTVL(ctx context.Context, chain string) (float64, error) {
	var c llamaChain
	if err := d.getJSON(ctx, "/v2/chains/"+chain, &c); err != nil {
		return 0, err
	}
	return c.TVL, nil
}

// SearchProtocols filters the protocol directory by name or symbol.
func (d *DefiLlama) SearchProtocols(ctx context.Context, query string) ([]ProtocolInfo, error) {
	var all []ProtocolInfo
	if err := d.getJSON(ctx, "/protocols", &all); err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	var matches []ProtocolInfo
	for _, p := range all {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Symbol), q) {
			matches = append(matches, p)
		}
	}
	return matches, nil
}

func (d *DefiLlama) FetchSnapshot(ctx context.Context) (*monitor.Snapshot, error) {
	d.mu.RLock()
	protocols := d.protocols
	chains := d.chains
	d.mu.RUnlock()

	metrics := make(map[string]float64)
	var lastErr error

	for _, p := range protocols {
		tvl, err := d.ProtocolTVL(ctx, p.Slug)
		if err != nil {
			d.logger.Error("defillama protocol fetch failed", "slug", p.Slug, "error", err)
			lastErr = err
			continue
		}
		metrics[p.Slug+":tvl"] = tvl.TVL
	}

	if len(protocols) > 0 {
		apys, err := d.PoolAPYs(ctx)
		if err != nil {
			d.logger.Error("defillama yields fetch failed", "error", err)
			lastErr = err
		} else {
			for _, p := range protocols {
				if apy, ok := apys[p.Slug]; ok {
					metrics[p.Slug+":apy"] = apy
				}
			}
		}
	}

	for _, chain := range chains {
		tvl, err := d.ChainTVL(ctx, chain)
		if err != nil {
			d.logger.Error("defillama chain fetch failed", "chain", chain, "error", err)
			lastErr = err
			continue
		}
		metrics["chain:"+chain+":tvl"] = tvl
	}

	if len(metrics) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("no defillama metrics configured")
	}

	return &monitor.Snapshot{
		Source:    d.Name(),
		Metrics:   metrics,
		FetchedAt: time.Now().UTC(),
	}, nil
}
