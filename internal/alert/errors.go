package alert

import "fmt"

// InvalidRuleError reports a malformed rule definition. The rule never
// enters the store.
type InvalidRuleError struct {
	Reason string
}

func (e *InvalidRuleError) Error() string {
	return "invalid rule: " + e.Reason
}

// NotFoundError reports an operation that referenced an unknown rule ID.
// The store is left unchanged.
type NotFoundError struct {
	ID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule %d not found", e.ID)
}

// InvalidObservationError reports an observation that could not be
// evaluated (non-finite value or empty metric). The observation is
// dropped; no rule state or watermark changes.
type InvalidObservationError struct {
	Metric string
	Value  float64
}

func (e *InvalidObservationError) Error() string {
	return fmt.Sprintf("invalid observation for %q: value %v", e.Metric, e.Value)
}
