package reconciler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/warden/types"
)

// ErrSweepRunning means a sweep was requested while one is in flight
var ErrSweepRunning = errors.New("sweep already running")

// ErrJanitorRunning means a diagnosis pass was requested while one is in flight
var ErrJanitorRunning = errors.New("janitor already running")

// AlreadyManagedError reports an adoption attempt for a handle that is
// already tracked by an existing record
type AlreadyManagedError struct {
	Handle     types.Handle
	WorkloadID string
}

func (e *AlreadyManagedError) Error() string {
	return fmt.Sprintf("handle %s already managed by workload %s", e.Handle, e.WorkloadID)
}

// IsAlreadyManaged reports whether err is an AlreadyManagedError
func IsAlreadyManaged(err error) bool {
	var a *AlreadyManagedError
	return errors.As(err, &a)
}

// PartialTeardownError means a hard delete destroyed state on one side
// but not the other. The record stays in place so the operation can be
// retried once the platform recovers.
type PartialTeardownError struct {
	WorkloadID string
	Handle     types.Handle
	Step       string
	Err        error
}

func (e *PartialTeardownError) Error() string {
	return fmt.Sprintf("partial teardown of %s (%s) at %s: %v",
		e.WorkloadID, e.Handle, e.Step, e.Err)
}

func (e *PartialTeardownError) Unwrap() error {
	return e.Err
}

// IsPartialTeardown reports whether err is a PartialTeardownError
func IsPartialTeardown(err error) bool {
	var p *PartialTeardownError
	return errors.As(err, &p)
}

// TimeoutError means a bounded wait on the platform ran out
type TimeoutError struct {
	Op     string
	Handle types.Handle
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: gave up after %s", e.Op, e.Handle, e.Waited)
}

// DeniedError reports an operation rejected by admission policy
type DeniedError struct {
	Action  string
	Subject string
	Reasons []string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s %s denied by policy: %s",
		e.Action, e.Subject, strings.Join(e.Reasons, "; "))
}

// IsDenied reports whether err is a policy denial
func IsDenied(err error) bool {
	var d *DeniedError
	return errors.As(err, &d)
}
