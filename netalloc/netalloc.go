// Package netalloc manages workload port claims. The engine only
// releases claims it already holds; reservation happens during
// provisioning and adoption.
package netalloc

import (
	"context"
	"fmt"
	"sync"
)

// Allocator hands out and takes back port claims. Implementations may
// be remote, so calls carry a context.
type Allocator interface {
	Reserve(ctx context.Context, n int) ([]int, error)
	Release(ctx context.Context, ports []int) error
}

// RangeAllocator allocates from a fixed local port range
type RangeAllocator struct {
	mu   sync.Mutex
	lo   int
	hi   int
	used map[int]bool
}

// NewRangeAllocator allocates ports in [lo, hi]
func NewRangeAllocator(lo, hi int) (*RangeAllocator, error) {
	if lo <= 0 || hi < lo {
		return nil, fmt.Errorf("invalid port range %d-%d", lo, hi)
	}
	return &RangeAllocator{
		lo:   lo,
		hi:   hi,
		used: make(map[int]bool),
	}, nil
}

// Reserve claims n free ports
func (a *RangeAllocator) Reserve(ctx context.Context, n int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ports := make([]int, 0, n)
	for p := a.lo; p <= a.hi && len(ports) < n; p++ {
		if !a.used[p] {
			ports = append(ports, p)
		}
	}
	if len(ports) < n {
		return nil, fmt.Errorf("port range %d-%d exhausted: want %d, have %d free",
			a.lo, a.hi, n, len(ports))
	}
	for _, p := range ports {
		a.used[p] = true
	}
	return ports, nil
}

// Release returns ports to the pool. Releasing an unclaimed port is a
// no-op so release paths stay idempotent.
func (a *RangeAllocator) Release(ctx context.Context, ports []int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range ports {
		delete(a.used, p)
	}
	return nil
}

// InUse reports how many ports are currently claimed
func (a *RangeAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// Claim marks specific ports as already reserved, used when loading
// existing workload records at startup
func (a *RangeAllocator) Claim(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		a.used[p] = true
	}
}
