package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chainpulse/defi-monitor/internal/monitor"
)

const gweiPerWei = 1e9

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// EthRPC polls gas price and block height from an Ethereum JSON-RPC endpoint.
type EthRPC struct {
	url    string
	client *http.Client
	nextID atomic.Int64
}

func NewEthRPC(rpcURL string) *EthRPC {
	return &EthRPC{
		url:    rpcURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *EthRPC) Name() string { return "ethrpc" }
func (e *EthRPC) URL() string  { return "https://etherscan.io/gastracker" }

// call performs one JSON-RPC method call and returns the hex-quantity result.
func (e *EthRPC) call(ctx context.Context, method string) (uint64, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  []any{},
		ID:      e.nextID.Add(1),
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("eth rpc: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("eth rpc status: %d", resp.StatusCode)
	}

	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode eth rpc: %w", err)
	}
	if out.Error != nil {
		return 0, fmt.Errorf("eth rpc %s: %s (code %d)", method, out.Error.Message, out.Error.Code)
	}
	return parseHexQuantity(out.Result)
}

// GasPriceGwei returns the current gas price in gwei.
func (e *EthRPC) GasPriceGwei(ctx context.Context) (float64, error) {
	wei, err := e.call(ctx, "eth_gasPrice")
	if err != nil {
		return 0, err
	}
	return float64(wei) / gweiPerWei, nil
}

// BlockNumber returns the latest block height.
func (e *EthRPC) BlockNumber(ctx context.Context) (uint64, error) {
	return e.call(ctx, "eth_blockNumber")
}

func (e *EthRPC) FetchSnapshot(ctx context.Context) (*monitor.Snapshot, error) {
	gas, err := e.GasPriceGwei(ctx)
	if err != nil {
		return nil, err
	}
	block, err := e.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	return &monitor.Snapshot{
		Source: e.Name(),
		Metrics: map[string]float64{
			"eth:gas_gwei": gas,
			"eth:block":    float64(block),
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}

func parseHexQuantity(s string) (uint64, error) {
	hex := strings.TrimPrefix(s, "0x")
	if hex == "" {
		return 0, fmt.Errorf("empty hex quantity %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}
