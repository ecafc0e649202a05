package monitor

import (
	"context"
	"time"
)

// Source defines the interface that all observation sources must implement.
// To add a new market data source, create a struct that implements this
// interface and register it with the Engine.
type Source interface {
	// Name returns a unique identifier for this source (e.g. "defillama").
	Name() string

	// URL returns a human-facing link used in alert messages.
	URL() string

	// FetchSnapshot fetches the current readings from the data source.
	FetchSnapshot(ctx context.Context) (*Snapshot, error)
}

// Snapshot represents a point-in-time set of readings from a source,
// keyed by metric id.
type Snapshot struct {
	Source    string             `json:"source"`
	Metrics   map[string]float64 `json:"metrics"`
	FetchedAt time.Time          `json:"fetched_at"`
}
