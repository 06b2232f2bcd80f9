package lifecycle

import (
	"time"

	"github.com/example/warden/types"
)

// Deadlines configures how long a workload may dwell in each
// transitional state before the janitor marks it failed
type Deadlines struct {
	Pending      time.Duration `yaml:"pending"`
	Provisioning time.Duration `yaml:"provisioning"`
	Removing     time.Duration `yaml:"removing"`
}

// DefaultDeadlines returns the stock dwell limits
func DefaultDeadlines() Deadlines {
	return Deadlines{
		Pending:      15 * time.Minute,
		Provisioning: 45 * time.Minute,
		Removing:     20 * time.Minute,
	}
}

// For returns the deadline for a transitional state. Stable and
// error states have no deadline.
func (d Deadlines) For(s types.Status) (time.Duration, bool) {
	switch s {
	case types.StatusPending:
		return d.Pending, true
	case types.StatusProvisioning:
		return d.Provisioning, true
	case types.StatusRemoving:
		return d.Removing, true
	}
	return 0, false
}

// Exceeded reports whether a workload has dwelt in its current state
// past the deadline, and how long it has been there
func (d Deadlines) Exceeded(w *types.Workload, now time.Time) (time.Duration, bool) {
	limit, ok := d.For(w.Status)
	if !ok {
		return 0, false
	}
	dwell := now.Sub(w.StatusChangedAt)
	return dwell, dwell > limit
}
