package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Watchlist declares what the monitor polls and which alert rules it seeds.
// Fields map 1:1 to watchlist.yaml.
type Watchlist struct {
	// Tokens are polled for USD price, 24h change and market cap.
	Tokens []Token `yaml:"tokens"`

	// Protocols are polled for TVL and pool APY.
	Protocols []Protocol `yaml:"protocols"`

	// Chains are polled for chain-wide TVL.
	Chains []string `yaml:"chains"`

	// Rules are seeded into the rule store at startup if no identical
	// rule already exists.
	Rules []SeedRule `yaml:"rules"`
}

// Token is one price-tracked asset.
type Token struct {
	Symbol      string `yaml:"symbol"`
	CoinGeckoID string `yaml:"coingecko_id"`
}

// Protocol is one TVL/yield-tracked DeFi protocol.
type Protocol struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Symbol      string `yaml:"symbol"`
	CoinGeckoID string `yaml:"coingecko_id"`
}

// SeedRule is a declarative alert rule shipped with the watchlist.
type SeedRule struct {
	Metric     string  `yaml:"metric"`
	Comparator string  `yaml:"comparator"`
	Threshold  float64 `yaml:"threshold"`
}

// DefaultWatchlist is used when no watchlist file exists.
func DefaultWatchlist() Watchlist {
	return Watchlist{
		Tokens: []Token{
			{Symbol: "ETH", CoinGeckoID: "ethereum"},
			{Symbol: "BTC", CoinGeckoID: "bitcoin"},
		},
		Protocols: []Protocol{
			{Name: "Aave V3", Slug: "aave-v3", Symbol: "AAVE", CoinGeckoID: "aave"},
			{Name: "Lido", Slug: "lido", Symbol: "LDO", CoinGeckoID: "lido-dao"},
			{Name: "EigenLayer", Slug: "eigenlayer", Symbol: "EIGEN", CoinGeckoID: "eigenlayer"},
		},
		Chains: []string{"ethereum"},
	}
}

// LoadWatchlist reads and validates a watchlist file. A missing file is not
// an error: the built-in default list is returned so the monitor can start
// without any local config.
func LoadWatchlist(path string) (Watchlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no watchlist file, using defaults", "path", path)
			return DefaultWatchlist(), nil
		}
		return Watchlist{}, fmt.Errorf("read watchlist: %w", err)
	}

	var w Watchlist
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return Watchlist{}, fmt.Errorf("parse watchlist: %w", err)
	}
	w.prune()
	return w, nil
}

// prune drops entries that cannot be polled, keeping the rest usable.
func (w *Watchlist) prune() {
	tokens := w.Tokens[:0]
	for _, t := range w.Tokens {
		if t.Symbol == "" || t.CoinGeckoID == "" {
			slog.Warn("skipping watchlist token", "symbol", t.Symbol, "coingecko_id", t.CoinGeckoID)
			continue
		}
		t.Symbol = strings.ToUpper(t.Symbol)
		tokens = append(tokens, t)
	}
	w.Tokens = tokens

	protocols := w.Protocols[:0]
	for _, p := range w.Protocols {
		if p.Slug == "" {
			slog.Warn("skipping watchlist protocol without slug", "name", p.Name)
			continue
		}
		if p.Name == "" {
			p.Name = p.Slug
		}
		p.Symbol = strings.ToUpper(p.Symbol)
		protocols = append(protocols, p)
	}
	w.Protocols = protocols

	chains := w.Chains[:0]
	for _, c := range w.Chains {
		if c == "" {
			continue
		}
		chains = append(chains, strings.ToLower(c))
	}
	w.Chains = chains
}

// PriceTokens merges watched tokens with protocol governance tokens so the
// price source polls each CoinGecko id once.
func (w Watchlist) PriceTokens() []Token {
	seen := make(map[string]bool, len(w.Tokens))
	tokens := make([]Token, 0, len(w.Tokens)+len(w.Protocols))
	for _, t := range w.Tokens {
		if seen[t.CoinGeckoID] {
			continue
		}
		seen[t.CoinGeckoID] = true
		tokens = append(tokens, t)
	}
	for _, p := range w.Protocols {
		if p.Symbol == "" || p.CoinGeckoID == "" || seen[p.CoinGeckoID] {
			continue
		}
		seen[p.CoinGeckoID] = true
		tokens = append(tokens, Token{Symbol: p.Symbol, CoinGeckoID: p.CoinGeckoID})
	}
	return tokens
}
