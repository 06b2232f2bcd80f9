package types

import "fmt"

// Status is a workload lifecycle state
type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusRemoving     Status = "removing"
	StatusError        Status = "error"
)

// AllStatuses lists every known lifecycle state
func AllStatuses() []Status {
	return []Status{
		StatusPending,
		StatusProvisioning,
		StatusRunning,
		StatusStopped,
		StatusRemoving,
		StatusError,
	}
}

// Valid reports whether s is a known lifecycle state
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProvisioning, StatusRunning,
		StatusStopped, StatusRemoving, StatusError:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a raw string into a Status
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}
