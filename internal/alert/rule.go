package alert

import "time"

// Comparator selects which side of the threshold a rule watches.
type Comparator string

const (
	Above Comparator = "above"
	Below Comparator = "below"
)

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	return c == Above || c == Below
}

// Direction returns the crossing direction a firing of this comparator implies.
func (c Comparator) Direction() Direction {
	if c == Above {
		return CrossedUp
	}
	return CrossedDown
}

// State is a rule's position in the fire/re-arm cycle. An Armed rule has not
// fired since its last re-arm; a Triggered rule has fired and stays silent
// until a recovery observation re-arms it.
type State string

const (
	Armed     State = "armed"
	Triggered State = "triggered"
)

// Direction of a crossing event.
type Direction string

const (
	CrossedUp   Direction = "crossed_up"
	CrossedDown Direction = "crossed_down"
)

// Rule is a user-defined threshold condition on one metric series.
// State transitions happen only inside the evaluator; everything else
// treats Rule values as read-only copies.
type Rule struct {
	ID         int64      `json:"id"`
	Metric     string     `json:"metric"`
	Comparator Comparator `json:"comparator"`
	Threshold  float64    `json:"threshold"`
	Enabled    bool       `json:"enabled"`
	State      State      `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Observation is one timestamped reading of a metric series.
type Observation struct {
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// Event records a single threshold crossing. Events are immutable facts:
// they carry the rule's threshold and comparator as they were at firing
// time, so later rule edits do not rewrite history.
type Event struct {
	RuleID     int64      `json:"rule_id"`
	Metric     string     `json:"metric"`
	Value      float64    `json:"value"`
	Threshold  float64    `json:"threshold"`
	Comparator Comparator `json:"comparator"`
	Direction  Direction  `json:"direction"`
	At         time.Time  `json:"at"`
}
