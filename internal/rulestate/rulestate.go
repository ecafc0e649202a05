package rulestate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

// Mirror copies hot evaluation state (rule arm/trigger state and per-metric
// watermarks) to Redis so a restart can pick up where the process left off.
// Writes are best-effort: the in-memory store stays authoritative and a
// Redis outage never blocks evaluation.
type Mirror struct {
	rdb *redis.Client
}

// New creates a Mirror backed by Redis.
func New(redisURL, password string) (*Mirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Mirror{rdb: rdb}, nil
}

// Close shuts down the Redis connection.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}

func ruleKey(id int64) string {
	return fmt.Sprintf("rule:%d:state", id)
}

func metricKey(metric string) string {
	return "metric:" + metric + ":last_seen"
}

// SaveRuleState records a rule's current state (no expiry).
func (m *Mirror) SaveRuleState(ctx context.Context, id int64, st alert.State) {
	m.rdb.Set(ctx, ruleKey(id), string(st), 0) //nolint:errcheck
}

// DeleteRuleState drops the mirrored state for a removed rule.
func (m *Mirror) DeleteRuleState(ctx context.Context, id int64) {
	m.rdb.Del(ctx, ruleKey(id)) //nolint:errcheck
}

// SaveLastSeen records the newest processed observation timestamp for a metric.
func (m *Mirror) SaveLastSeen(ctx context.Context, metric string, at time.Time) {
	m.rdb.Set(ctx, metricKey(metric), at.UTC().Format(time.RFC3339Nano), 0) //nolint:errcheck
}

// Load reads back every mirrored rule state and metric watermark. Keys that
// do not parse are skipped; a dead Redis returns an error so the caller can
// log it and start cold.
func (m *Mirror) Load(ctx context.Context) (map[int64]alert.State, map[string]time.Time, error) {
	states := make(map[int64]alert.State)
	ruleKeys, err := m.scanKeys(ctx, "rule:*:state")
	if err != nil {
		return nil, nil, fmt.Errorf("scan rule states: %w", err)
	}
	for _, key := range ruleKeys {
		idStr := strings.TrimSuffix(strings.TrimPrefix(key, "rule:"), ":state")
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		val, err := m.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		st := alert.State(val)
		if st != alert.Armed && st != alert.Triggered {
			continue
		}
		states[id] = st
	}

	marks := make(map[string]time.Time)
	metricKeys, err := m.scanKeys(ctx, "metric:*:last_seen")
	if err != nil {
		return nil, nil, fmt.Errorf("scan watermarks: %w", err)
	}
	for _, key := range metricKeys {
		metric := strings.TrimSuffix(strings.TrimPrefix(key, "metric:"), ":last_seen")
		if metric == "" {
			continue
		}
		val, err := m.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			continue
		}
		marks[metric] = at
	}
	return states, marks, nil
}

func (m *Mirror) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := m.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
