// Package fault implements the numeric fault ladder attached to every package
// served by a SemVerX registry.
//
// A fault state is an integer from 0 (clean) to 17 (system panic). Named
// thresholds split the ladder into classes; a value between two thresholds
// belongs to the class of the nearest threshold at or below it. Once a graph
// contains a node at SystemPanic, resolution stops.
package fault

import (
	"errors"
	"fmt"
)

// State is a classified fault severity.
type State int

// Named thresholds.
const (
	Clean          State = 0
	LowWarning     State = 1
	MediumWarning  State = 3
	HighWarning    State = 5
	LowDanger      State = 6
	CriticalDanger State = 11
	LowPanic       State = 12
	SystemPanic    State = 17
)

// RecoveryAction is the operator response associated with a fault class.
type RecoveryAction string

const (
	ActionNone            RecoveryAction = "none"
	ActionNotifyObservers RecoveryAction = "notify-observers"
	ActionManualReview    RecoveryAction = "manual-review"
	ActionFreezeUpdates   RecoveryAction = "freeze-updates"
	ActionRollback        RecoveryAction = "rollback-to-stable"
	ActionSystemReset     RecoveryAction = "system-reset"
)

// ErrDomain is wrapped by DomainError.
var ErrDomain = errors.New("fault state out of domain")

// DomainError is returned by Classify for negative input.
type DomainError struct {
	Value int
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("fault state %d is negative", e.Value)
}

func (e *DomainError) Unwrap() error { return ErrDomain }

// thresholds in ascending order.
var thresholds = []State{
	Clean, LowWarning, MediumWarning, HighWarning,
	LowDanger, CriticalDanger, LowPanic, SystemPanic,
}

// Classify maps a raw wire value to the nearest named threshold at or below
// it. Values above SystemPanic classify as SystemPanic.
func Classify(value int) (State, error) {
	if value < 0 {
		return Clean, &DomainError{Value: value}
	}
	class := Clean
	for _, t := range thresholds {
		if State(value) < t {
			break
		}
		class = t
	}
	return class, nil
}

// IsBlocking reports whether s aborts resolution.
func IsBlocking(s State) bool {
	return s >= SystemPanic
}

// IsBlocking reports whether s aborts resolution.
func (s State) IsBlocking() bool { return IsBlocking(s) }

// Class returns the named threshold that s belongs to.
func (s State) Class() State {
	c, err := Classify(int(s))
	if err != nil {
		return Clean
	}
	return c
}

func (s State) String() string {
	switch s.Class() {
	case Clean:
		return "clean"
	case LowWarning:
		return "low-warning"
	case MediumWarning:
		return "medium-warning"
	case HighWarning:
		return "high-warning"
	case LowDanger:
		return "low-danger"
	case CriticalDanger:
		return "critical-danger"
	case LowPanic:
		return "low-panic"
	default:
		return "system-panic"
	}
}

// RecoveryAction returns the response for the class of s.
func (s State) RecoveryAction() RecoveryAction {
	switch c := s.Class(); {
	case c == Clean:
		return ActionNone
	case c < LowDanger:
		return ActionNotifyObservers
	case c == LowDanger:
		return ActionManualReview
	case c == CriticalDanger:
		return ActionFreezeUpdates
	case c == LowPanic:
		return ActionRollback
	default:
		return ActionSystemReset
	}
}

// Max returns the more severe of a and b.
func Max(a, b State) State {
	if a > b {
		return a
	}
	return b
}
