// internal/domain/outcome.go
package domain

// OutcomeKind tags the user-facing result of a trade.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the single result shape handed to presentation layers for a
// swap attempt. Hash is the real signature when one exists, otherwise the
// placeholder recorded for the attempt.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	OwnerID   string      `json:"owner_id"`
	Direction Direction   `json:"direction"`
	Token     string      `json:"token"`
	Amount    float64     `json:"amount"`
	Hash      string      `json:"hash"`
	Detail    string      `json:"detail,omitempty"`
	Err       error       `json:"-"`
}

// Succeeded reports whether the trade reached a successful terminal state.
func (o Outcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}
