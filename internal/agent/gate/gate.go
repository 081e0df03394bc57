// Package gate maps a knowledge-match score onto a routing decision using
// the company's thresholds.
package gate

import (
	"fmt"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/models"
)

type Decision = models.Decision

const (
	Accept   = models.DecisionAccept
	Degrade  = models.DecisionDegrade
	Escalate = models.DecisionEscalate
)

// Decide applies inclusive lower bounds: score >= accept is Accept,
// escalate <= score < accept is Degrade, anything lower is Escalate.
// Thresholds are never defaulted; nil or inverted ones are Unconfigured.
func Decide(score float64, t *models.Thresholds) (Decision, error) {
	if err := Validate(t); err != nil {
		return "", err
	}
	switch {
	case score >= t.Accept:
		return Accept, nil
	case score >= t.Escalate:
		return Degrade, nil
	default:
		return Escalate, nil
	}
}

// Validate reports whether thresholds are usable by Decide.
func Validate(t *models.Thresholds) error {
	if t == nil {
		return errors.NewUnconfiguredError("thresholds")
	}
	if t.Escalate > t.Accept {
		return errors.NewUnconfiguredError(fmt.Sprintf("thresholds (escalate %.2f > accept %.2f)", t.Escalate, t.Accept))
	}
	if t.Accept < 0 || t.Accept > 1 || t.Escalate < 0 || t.Escalate > 1 {
		return errors.NewUnconfiguredError("thresholds (out of [0,1])")
	}
	return nil
}
