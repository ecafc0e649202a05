package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/chainpulse/defi-monitor/internal/monitor"
)

const (
	spotWSBase    = "wss://stream.binance.com:9443/ws"
	spotRESTBase  = "https://api.binance.com"
	reconnectBase = 2 * time.Second
	reconnectMax  = 60 * time.Second
	flushInterval = 5 * time.Second
)

// Sink receives finished snapshots. *monitor.Engine satisfies it.
type Sink interface {
	Offer(ctx context.Context, snap *monitor.Snapshot)
}

// miniTicker is the payload of a Binance <symbol>@miniTicker stream event.
type miniTicker struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// Collector streams live spot prices from Binance and feeds them into the
// evaluation queue as "<SYM>:spot" metrics. Ticks arrive far faster than the
// polling interval, so the latest price per symbol is buffered and flushed on
// a short timer instead of per message.
type Collector struct {
	sink     Sink
	logger   *slog.Logger
	client   *http.Client
	wsBase   string
	restBase string
	pairs    map[string]string // "ETHUSDT" -> "ETH:spot"

	mu     sync.Mutex
	latest map[string]float64
	dirty  bool
}

func New(sink Sink, logger *slog.Logger, symbols []string) *Collector {
	pairs := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		// Stablecoins have no USDT pair worth streaming.
		if sym == "" || sym == "USDT" || sym == "USDC" || sym == "DAI" {
			continue
		}
		pairs[sym+"USDT"] = sym + ":spot"
	}
	return &Collector{
		sink:     sink,
		logger:   logger,
		client:   &http.Client{Timeout: 15 * time.Second},
		wsBase:   spotWSBase,
		restBase: spotRESTBase,
		pairs:    pairs,
		latest:   make(map[string]float64, len(pairs)),
	}
}

// Run starts the collector. Blocks until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	if len(c.pairs) == 0 {
		c.logger.Info("no spot symbols to stream")
		return
	}

	streams := make([]string, 0, len(c.pairs))
	for pair := range c.pairs {
		streams = append(streams, strings.ToLower(pair)+"@miniTicker")
	}
	sort.Strings(streams)
	wsURL := c.wsBase + "/" + strings.Join(streams, "/")

	go c.flushLoop(ctx)

	// Seed current prices over REST so rules see spot metrics before the
	// first tick arrives.
	c.seed(ctx)

	c.logger.Info("spot stream starting", "pairs", len(streams), "url", wsURL)

	backoff := reconnectBase
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.connectAndRead(ctx, wsURL)
		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("binance ws disconnected, reconnecting...", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(math.Min(float64(backoff*2), float64(reconnectMax)))
	}
}

// seed fetches the current price of every tracked pair from the REST API and
// flushes one snapshot immediately.
func (c *Collector) seed(ctx context.Context) {
	for pair, metric := range c.pairs {
		url := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", c.restBase, pair)
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			c.logger.Warn("seed request create failed", "pair", pair, "error", err)
			continue
		}
		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Warn("seed request failed", "pair", pair, "error", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close() //nolint:errcheck
		if err != nil || resp.StatusCode != 200 {
			c.logger.Warn("seed read failed", "pair", pair, "status", resp.StatusCode)
			continue
		}

		var tick struct {
			Symbol string `json:"symbol"`
			Price  string `json:"price"`
		}
		if err := json.Unmarshal(body, &tick); err != nil {
			c.logger.Warn("seed parse failed", "pair", pair, "error", err)
			continue
		}
		price, err := strconv.ParseFloat(tick.Price, 64)
		if err != nil || price <= 0 {
			continue
		}

		c.mu.Lock()
		c.latest[metric] = price
		c.dirty = true
		c.mu.Unlock()
	}
	c.flush(ctx)
}

func (c *Collector) connectAndRead(ctx context.Context, wsURL string) error {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("ws dial: %w", err)
	}
	defer conn.CloseNow() //nolint:errcheck

	c.logger.Info("binance ws connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		c.handleMessage(data)
	}
}

func (c *Collector) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flush(ctx)
		}
	}
}

// flush hands the buffered prices to the sink as one snapshot. The full price
// map goes out each time so the cached snapshot always covers every pair.
func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	metrics := make(map[string]float64, len(c.latest))
	for metric, price := range c.latest {
		metrics[metric] = price
	}
	c.dirty = false
	c.mu.Unlock()

	c.sink.Offer(ctx, &monitor.Snapshot{
		Source:    "binance",
		Metrics:   metrics,
		FetchedAt: time.Now().UTC(),
	})
}

func (c *Collector) handleMessage(data []byte) {
	var msg miniTicker
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Event != "24hrMiniTicker" {
		return
	}
	metric, ok := c.pairs[msg.Symbol]
	if !ok {
		return
	}
	price, err := strconv.ParseFloat(msg.Close, 64)
	if err != nil || price <= 0 {
		return
	}

	c.mu.Lock()
	c.latest[metric] = price
	c.dirty = true
	c.mu.Unlock()
}
