package gate

import (
	"encoding/json"
	"time"
)

// Violation is one reason a gate failed.
type Violation struct {
	Rule        string            `json:"rule"`
	Description string            `json:"description"`
	Actual      string            `json:"actual"`
	Expected    string            `json:"expected"`
	Severity    ViolationSeverity `json:"severity"`
}

// GateDecision is the explainable outcome of one gate evaluation.
// Build it with NewGateDecision so Pass always agrees with Violations.
type GateDecision struct {
	Pass        bool        `json:"pass"`
	Violations  []Violation `json:"violations"`
	Messages    []string    `json:"messages"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// NewGateDecision builds a decision that passes if and only if violations is empty.
func NewGateDecision(evaluatedAt time.Time, violations []Violation, messages ...string) *GateDecision {
	if violations == nil {
		violations = []Violation{}
	}
	if messages == nil {
		messages = []string{}
	}
	return &GateDecision{
		Pass:        len(violations) == 0,
		Violations:  violations,
		Messages:    messages,
		EvaluatedAt: evaluatedAt,
	}
}

// Rules returns the rule names of all violations in order.
func (d *GateDecision) Rules() []string {
	rules := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		rules = append(rules, v.Rule)
	}
	return rules
}

// HasViolation reports whether a violation with the given rule is present.
func (d *GateDecision) HasViolation(rule string) bool {
	for _, v := range d.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// MarshalJSON recomputes Pass so a hand-built decision cannot serialize inconsistently.
func (d GateDecision) MarshalJSON() ([]byte, error) {
	type plain GateDecision
	out := plain(*NewGateDecision(d.EvaluatedAt, d.Violations, d.Messages...))
	return json.Marshal(out)
}
