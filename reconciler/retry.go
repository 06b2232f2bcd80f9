package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/warden/platform"
	"github.com/example/warden/storage"
	"github.com/example/warden/types"
)

// platformCtx bounds a single platform call
func platformCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// waitStopped polls the platform until the resource reports stopped or
// is gone, bounded by wait. An absent resource counts as stopped.
func waitStopped(ctx context.Context, client platform.Client, h types.Handle, wait, poll time.Duration, callTimeout time.Duration) error {
	deadline := time.Now().Add(wait)

	for {
		callCtx, cancel := platformCtx(ctx, callTimeout)
		state, err := client.Inspect(callCtx, h)
		cancel()

		switch {
		case platform.IsNotFound(err):
			return nil
		case err != nil:
			return err
		case state.Status == types.StatusStopped:
			return nil
		}

		if time.Now().After(deadline) {
			return &TimeoutError{Op: "wait for stop", Handle: h, Waited: wait}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// transitionStatus moves a workload to a new status with a
// compare-and-swap on the revision the caller read. A lost race is
// retried once against the re-read record; a second loss surfaces the
// conflict. The re-read record is returned on success.
func transitionStatus(repo Repository, id string, fromRev int64, to types.Status, msg string) (*types.Workload, error) {
	updated, err := repo.UpdateStatus(id, fromRev, to, msg)
	if !errors.Is(err, storage.ErrConflict) {
		return updated, err
	}

	current, err := repo.Get(id)
	if err != nil {
		return nil, fmt.Errorf("reread after conflict: %w", err)
	}
	if current.Status == to {
		return current, nil
	}
	return repo.UpdateStatus(id, current.Rev, to, msg)
}

// deleteRecord removes a workload record with a compare-and-swap on
// the revision the caller read, retrying once on a lost race. A record
// that is already gone counts as deleted.
func deleteRecord(repo Repository, id string, fromRev int64) error {
	err := repo.Delete(id, fromRev)
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if !errors.Is(err, storage.ErrConflict) {
		return err
	}

	current, err := repo.Get(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reread after conflict: %w", err)
	}
	err = repo.Delete(id, current.Rev)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
