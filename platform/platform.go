// Package platform is the facade over the infrastructure platform that
// physically runs workloads. Drivers must keep two failure modes apart:
// a resource that does not exist (ErrNotFound) and a platform that
// cannot be reached (UnreachableError). Orphan classification depends
// on that distinction, so conflating them corrupts reconciliation.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/warden/types"
)

// ErrNotFound means the handle resolves to no physical resource
var ErrNotFound = errors.New("resource not found")

// UnreachableError wraps transport failures talking to the platform
type UnreachableError struct {
	Endpoint string
	Err      error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("platform unreachable at %s: %v", e.Endpoint, e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// IsUnreachable reports whether err is a platform transport failure
func IsUnreachable(err error) bool {
	var u *UnreachableError
	return errors.As(err, &u)
}

// IsNotFound reports whether err means the resource is absent
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// State describes a physical resource as the platform reports it
type State struct {
	// Status is the platform state mapped into the workload vocabulary
	Status types.Status
	// Raw is the platform's own state string, for diagnostics
	Raw       string
	Labels    map[string]string
	Resources types.ResourceLimits
}

// Client talks to the infrastructure platform about one resource at a
// time. Implementations must honor context deadlines on every call.
type Client interface {
	// Inspect returns the resource's actual state, or ErrNotFound
	Inspect(ctx context.Context, h types.Handle) (*State, error)
	// Stop requests graceful shutdown. Stopping an already stopped
	// resource is a no-op, not an error.
	Stop(ctx context.Context, h types.Handle) error
	// Destroy releases the resource. Destroying an absent resource
	// returns ErrNotFound.
	Destroy(ctx context.Context, h types.Handle) error
	// Config returns the resource's full configuration key/value set
	Config(ctx context.Context, h types.Handle) (map[string]string, error)
}
