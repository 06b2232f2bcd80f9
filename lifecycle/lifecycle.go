// Package lifecycle holds the shared state machine and divergence
// classification rules. Every component that mutates workload status
// goes through this package, so the rules cannot drift between the
// sweep, the janitor, and the deletion coordinator.
package lifecycle

import (
	"fmt"

	"github.com/example/warden/types"
)

// OrphanClass classifies a record whose physical resource is gone
type OrphanClass string

const (
	// OrphanExpected means the absence is consistent with an in-flight
	// or just-completed operation
	OrphanExpected OrphanClass = "expected"
	// OrphanAnomalous means the resource disappeared while the record
	// believed it existed, indicating out-of-band deletion
	OrphanAnomalous OrphanClass = "anomalous"
)

// InvalidTransitionError reports a rejected status transition
type InvalidTransitionError struct {
	From types.Status
	To   types.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// transitions maps each state to the states it may move to.
// error is absorbing except for removing, which is the explicit
// cleanup retry path. removing resolves to record deletion, not
// to another state.
var transitions = map[types.Status][]types.Status{
	types.StatusPending:      {types.StatusProvisioning, types.StatusRemoving, types.StatusError},
	types.StatusProvisioning: {types.StatusRunning, types.StatusStopped, types.StatusRemoving, types.StatusError},
	types.StatusRunning:      {types.StatusProvisioning, types.StatusStopped, types.StatusRemoving, types.StatusError},
	types.StatusStopped:      {types.StatusProvisioning, types.StatusRunning, types.StatusRemoving, types.StatusError},
	types.StatusRemoving:     {types.StatusError},
	types.StatusError:        {types.StatusRemoving},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to types.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a typed error for a rejected transition
func ValidateTransition(from, to types.Status) error {
	if !from.Valid() {
		return fmt.Errorf("unknown status %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsTransitional reports whether s is a work-in-progress state
func IsTransitional(s types.Status) bool {
	switch s {
	case types.StatusPending, types.StatusProvisioning, types.StatusRemoving:
		return true
	}
	return false
}

// IsStable reports whether s is a settled state
func IsStable(s types.Status) bool {
	return s == types.StatusRunning || s == types.StatusStopped
}

// ClassifyOrphan decides how to treat a record whose resource no
// longer exists on the platform. Transitional states expected their
// own disappearance; stable and error states did not.
func ClassifyOrphan(s types.Status) OrphanClass {
	if IsTransitional(s) {
		return OrphanExpected
	}
	return OrphanAnomalous
}
