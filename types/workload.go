package types

import (
	"fmt"
	"strings"
	"time"
)

// Provenance records how a workload came under management
type Provenance string

const (
	// ProvenanceNative marks workloads created and fully owned by warden
	ProvenanceNative Provenance = "native"
	// ProvenanceAdopted marks workloads imported from pre-existing resources
	ProvenanceAdopted Provenance = "adopted"
)

// Handle references a physical resource on the infrastructure platform
type Handle struct {
	Node string `json:"node"`
	ID   string `json:"id"`
}

// IsZero reports whether the handle is unset
func (h Handle) IsZero() bool {
	return h.Node == "" && h.ID == ""
}

func (h Handle) String() string {
	return h.Node + "/" + h.ID
}

// ParseHandle parses "node/resource-id" into a Handle
func ParseHandle(s string) (Handle, error) {
	node, id, ok := strings.Cut(s, "/")
	if !ok || node == "" || id == "" {
		return Handle{}, fmt.Errorf("invalid handle %q: want node/resource-id", s)
	}
	return Handle{Node: node, ID: id}, nil
}

// ResourceLimits captures the compute allocation of a physical resource
type ResourceLimits struct {
	CPUCount int   `json:"cpu_count"`
	MemoryMB int64 `json:"memory_mb"`
	DiskGB   int64 `json:"disk_gb"`
}

// ConfigSnapshot is a point-in-time capture of a resource's configuration,
// taken at adoption and never overwritten
type ConfigSnapshot struct {
	Config     map[string]string `json:"config"`
	Resources  ResourceLimits    `json:"resources"`
	CapturedAt time.Time         `json:"captured_at"`
}

// Workload is the central entity: one record per physical resource
type Workload struct {
	ID              string            `json:"id"`
	Name            string            `json:"name,omitempty"`
	Status          Status            `json:"status"`
	Provenance      Provenance        `json:"provenance"`
	Handle          Handle            `json:"handle"`
	Ports           []int             `json:"ports,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
	ConfigSnapshot  *ConfigSnapshot   `json:"config_snapshot,omitempty"`
	Rev             int64             `json:"rev"`
	LastError       string            `json:"last_error,omitempty"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasHandle reports whether a physical resource is attached
func (w *Workload) HasHandle() bool {
	return !w.Handle.IsZero()
}

// IsAdopted checks if the workload was imported rather than created here
func (w *Workload) IsAdopted() bool {
	return w.Provenance == ProvenanceAdopted
}

// Clone returns a deep copy so callers can mutate without aliasing
func (w *Workload) Clone() *Workload {
	c := *w
	if w.Ports != nil {
		c.Ports = append([]int(nil), w.Ports...)
	}
	if w.Labels != nil {
		c.Labels = make(map[string]string, len(w.Labels))
		for k, v := range w.Labels {
			c.Labels[k] = v
		}
	}
	if w.ConfigSnapshot != nil {
		snap := *w.ConfigSnapshot
		if w.ConfigSnapshot.Config != nil {
			snap.Config = make(map[string]string, len(w.ConfigSnapshot.Config))
			for k, v := range w.ConfigSnapshot.Config {
				snap.Config[k] = v
			}
		}
		c.ConfigSnapshot = &snap
	}
	return &c
}
