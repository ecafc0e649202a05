package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainpulse/defi-monitor/internal/alert"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Alert rules ---

// SaveRule persists a rule definition. IDs are assigned by the in-memory
// rule store, so this is an upsert keyed on id.
func (s *Store) SaveRule(ctx context.Context, r alert.Rule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_rules (id, metric, comparator, threshold, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
			SET metric = $2, comparator = $3, threshold = $4, enabled = $5`,
		r.ID, r.Metric, string(r.Comparator), r.Threshold, r.Enabled, r.CreatedAt)
	return err
}

// DeleteRule removes a rule definition. Alert and observation history stays.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
	return err
}

// LoadRules returns every persisted rule in id order. Arm state is not
// stored here; rules come back armed and the Redis mirror restores the rest.
func (s *Store) LoadRules(ctx context.Context) ([]alert.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, metric, comparator, threshold, enabled, created_at
		FROM alert_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []alert.Rule
	for rows.Next() {
		var r alert.Rule
		var cmp string
		if err := rows.Scan(&r.ID, &r.Metric, &cmp, &r.Threshold, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Comparator = alert.Comparator(cmp)
		r.State = alert.Armed
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// --- Alert events ---

// InsertEvent records one threshold crossing.
func (s *Store) InsertEvent(ctx context.Context, e alert.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events (rule_id, metric, value, threshold, comparator, direction, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.RuleID, e.Metric, e.Value, e.Threshold, string(e.Comparator), string(e.Direction), e.At)
	return err
}

// ListEvents returns crossings newest first, optionally filtered by metric.
func (s *Store) ListEvents(ctx context.Context, metric string, limit int) ([]alert.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, metric, value, threshold, comparator, direction, observed_at
		FROM alert_events
		WHERE $1 = '' OR metric = $1
		ORDER BY observed_at DESC, id DESC
		LIMIT $2`, metric, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []alert.Event
	for rows.Next() {
		var e alert.Event
		var cmp, dir string
		if err := rows.Scan(&e.RuleID, &e.Metric, &e.Value, &e.Threshold, &cmp, &dir, &e.At); err != nil {
			return nil, err
		}
		e.Comparator = alert.Comparator(cmp)
		e.Direction = alert.Direction(dir)
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the total number of recorded crossings.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alert_events`).Scan(&count)
	return count, err
}

// CountEventsSince returns crossings recorded after the given time.
func (s *Store) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alert_events WHERE observed_at > $1`, since).Scan(&count)
	return count, err
}

// --- Observations ---

// InsertObservations batch-inserts accepted metric readings.
func (s *Store) InsertObservations(ctx context.Context, obs []alert.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	// Use a single transaction for batch efficiency
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, o := range obs {
		_, err := tx.Exec(ctx, `
			INSERT INTO observations (metric, value, observed_at)
			VALUES ($1, $2, $3)`,
			o.Metric, o.Value, o.At)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// MetricHistory returns readings for one metric since a point in time,
// oldest first, capped at limit rows.
func (s *Store) MetricHistory(ctx context.Context, metric string, since time.Time, limit int) ([]alert.Observation, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT metric, value, observed_at
		FROM observations
		WHERE metric = $1 AND observed_at > $2
		ORDER BY observed_at ASC
		LIMIT $3`, metric, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []alert.Observation
	for rows.Next() {
		var o alert.Observation
		if err := rows.Scan(&o.Metric, &o.Value, &o.At); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// LatestObservations returns the most recent reading per metric.
func (s *Store) LatestObservations(ctx context.Context) ([]alert.Observation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (metric) metric, value, observed_at
		FROM observations
		ORDER BY metric, observed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []alert.Observation
	for rows.Next() {
		var o alert.Observation
		if err := rows.Scan(&o.Metric, &o.Value, &o.At); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// DistinctMetrics lists every metric that has at least one stored reading.
func (s *Store) DistinctMetrics(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT metric FROM observations ORDER BY metric`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// CountObservations returns the total number of stored readings.
func (s *Store) CountObservations(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observations`).Scan(&count)
	return count, err
}

// PruneObservations deletes readings older than the given duration.
func (s *Store) PruneObservations(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM observations WHERE observed_at < $1`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
