package types

// WorkloadFilter selects workloads when listing the repository
type WorkloadFilter struct {
	Status     Status            `json:"status,omitempty"`
	Provenance Provenance        `json:"provenance,omitempty"`
	Node       string            `json:"node,omitempty"`
	IDs        []string          `json:"ids,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	HasHandle  *bool             `json:"has_handle,omitempty"`
}

// Matches checks if a workload satisfies every filter criterion
func (w *Workload) Matches(filter WorkloadFilter) bool {
	return w.matchesBasicFields(filter) && w.matchesIDs(filter) && w.matchesLabels(filter)
}

// matchesBasicFields checks status, provenance, node, handle presence
func (w *Workload) matchesBasicFields(filter WorkloadFilter) bool {
	if filter.Status != "" && w.Status != filter.Status {
		return false
	}
	if filter.Provenance != "" && w.Provenance != filter.Provenance {
		return false
	}
	if filter.Node != "" && w.Handle.Node != filter.Node {
		return false
	}
	if filter.HasHandle != nil && w.HasHandle() != *filter.HasHandle {
		return false
	}
	return true
}

// matchesIDs checks if workload ID is in filter list
func (w *Workload) matchesIDs(filter WorkloadFilter) bool {
	if len(filter.IDs) == 0 {
		return true
	}
	for _, id := range filter.IDs {
		if w.ID == id {
			return true
		}
	}
	return false
}

// matchesLabels checks if all filter labels match workload labels
func (w *Workload) matchesLabels(filter WorkloadFilter) bool {
	for key, value := range filter.Labels {
		if w.Labels[key] != value {
			return false
		}
	}
	return true
}
