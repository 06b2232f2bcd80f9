// Package virtd implements the platform driver for virtd machine
// daemons. Each node runs its own daemon; the handle's node part
// selects the endpoint, the id part names the machine on that node.
package virtd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/example/warden/platform"
	"github.com/example/warden/types"
)

// Driver talks to per-node virtd daemons over HTTP/JSON
type Driver struct {
	endpoints map[string]string
	client    *http.Client
}

// machine is the wire shape virtd reports for one machine
type machine struct {
	ID        string            `json:"id"`
	State     string            `json:"state"`
	Labels    map[string]string `json:"labels,omitempty"`
	Resources struct {
		CPUs     int   `json:"cpus"`
		MemoryMB int64 `json:"memory_mb"`
		DiskGB   int64 `json:"disk_gb"`
	} `json:"resources"`
}

var _ platform.Client = (*Driver)(nil)

// New creates a driver routing requests by node name. The timeout
// bounds each HTTP call on top of whatever deadline the context carries.
func New(endpoints map[string]string, timeout time.Duration) *Driver {
	return &Driver{
		endpoints: endpoints,
		client:    &http.Client{Timeout: timeout},
	}
}

// Inspect fetches the machine's current state from its node
func (d *Driver) Inspect(ctx context.Context, h types.Handle) (*platform.State, error) {
	base, err := d.endpoint(h.Node)
	if err != nil {
		return nil, err
	}

	resp, err := d.do(ctx, http.MethodGet, base+"/v1/machines/"+h.ID, base)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, base); err != nil {
		return nil, err
	}

	var m machine
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding machine %s: %w", h, err)
	}

	return &platform.State{
		Status: mapState(m.State),
		Raw:    m.State,
		Labels: m.Labels,
		Resources: types.ResourceLimits{
			CPUCount: m.Resources.CPUs,
			MemoryMB: m.Resources.MemoryMB,
			DiskGB:   m.Resources.DiskGB,
		},
	}, nil
}

// Stop requests graceful shutdown. A machine that is already stopped
// answers 409, which is not a failure.
func (d *Driver) Stop(ctx context.Context, h types.Handle) error {
	base, err := d.endpoint(h.Node)
	if err != nil {
		return err
	}

	resp, err := d.do(ctx, http.MethodPost, base+"/v1/machines/"+h.ID+"/stop", base)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	return checkStatus(resp, base)
}

// Destroy releases the machine and everything it holds on the node
func (d *Driver) Destroy(ctx context.Context, h types.Handle) error {
	base, err := d.endpoint(h.Node)
	if err != nil {
		return err
	}

	resp, err := d.do(ctx, http.MethodDelete, base+"/v1/machines/"+h.ID, base)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	return checkStatus(resp, base)
}

// Config fetches the machine's full configuration key/value set
func (d *Driver) Config(ctx context.Context, h types.Handle) (map[string]string, error) {
	base, err := d.endpoint(h.Node)
	if err != nil {
		return nil, err
	}

	resp, err := d.do(ctx, http.MethodGet, base+"/v1/machines/"+h.ID+"/config", base)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(resp, base); err != nil {
		return nil, err
	}

	var cfg map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config for %s: %w", h, err)
	}
	return cfg, nil
}

// endpoint resolves the node's daemon URL. A node we have no endpoint
// for is unreachable, not absent: the machine may well exist there.
func (d *Driver) endpoint(node string) (string, error) {
	base, ok := d.endpoints[node]
	if !ok {
		return "", &platform.UnreachableError{
			Endpoint: node,
			Err:      fmt.Errorf("no endpoint configured for node %q", node),
		}
	}
	return base, nil
}

func (d *Driver) do(ctx context.Context, method, url, base string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building virtd request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &platform.UnreachableError{Endpoint: base, Err: err}
	}
	return resp, nil
}

// checkStatus maps HTTP status codes onto the platform error taxonomy.
// 404 means the machine is gone; 5xx means the node cannot be trusted
// to answer, which is unreachability rather than absence.
func checkStatus(resp *http.Response, base string) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return platform.ErrNotFound
	case resp.StatusCode >= 500:
		return &platform.UnreachableError{
			Endpoint: base,
			Err:      fmt.Errorf("virtd returned %d", resp.StatusCode),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("virtd returned %d: %s", resp.StatusCode, body)
	}
}

// mapState translates virtd machine states into the workload vocabulary.
// Transitional shutdown states stay running so teardown keeps polling
// until the machine actually reaches a resting state.
func mapState(s string) types.Status {
	switch s {
	case "creating":
		return types.StatusProvisioning
	case "running", "paused", "stopping":
		return types.StatusRunning
	case "stopped", "shutoff":
		return types.StatusStopped
	case "destroying":
		return types.StatusRemoving
	default:
		return types.StatusError
	}
}
