package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/warden/platform"
	"github.com/example/warden/telemetry"
	"github.com/example/warden/types"
)

// ErrQueueFull is returned by Submit when the queue has no room left
var ErrQueueFull = errors.New("dispatcher queue full")

// Actions is the slice of the engine the dispatcher drives
type Actions interface {
	RequestDelete(ctx context.Context, id string) error
	RequestAdopt(ctx context.Context, h types.Handle) (*types.Workload, error)
}

// TaskKind names the operation a task performs
type TaskKind string

const (
	TaskDelete TaskKind = "delete"
	TaskAdopt  TaskKind = "adopt"
)

// Task is one submission for the worker pool
type Task struct {
	Kind TaskKind
	// ID is the workload id, for delete tasks
	ID string
	// Handle is the resource handle, for adopt tasks
	Handle types.Handle

	done chan error
}

func (t *Task) String() string {
	if t.Kind == TaskAdopt {
		return fmt.Sprintf("%s %s", t.Kind, t.Handle)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.ID)
}

// DispatcherOptions sizes the worker pool and its retry behavior
type DispatcherOptions struct {
	Workers      int
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// Dispatcher executes delete and adopt submissions on a fixed pool of
// workers. Attempts that fail because the platform is unreachable are
// retried with backoff; any other failure is final. Both operations
// are safe to re-attempt, so at-least-once execution holds.
type Dispatcher struct {
	actions Actions
	logger  *telemetry.Logger
	opts    DispatcherOptions
	queue   chan *Task
}

// NewDispatcher creates a dispatcher around the given engine surface
func NewDispatcher(actions Actions, opts DispatcherOptions) *Dispatcher {
	return &Dispatcher{
		actions: actions,
		logger:  telemetry.NewLogger("dispatcher"),
		opts:    opts,
		queue:   make(chan *Task, opts.QueueSize),
	}
}

// Submit enqueues a task without blocking. A full queue is the
// caller's problem: shed load rather than stall the submitter.
func (d *Dispatcher) Submit(t *Task) error {
	select {
	case d.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues a task and blocks until a worker finishes it
func (d *Dispatcher) SubmitWait(ctx context.Context, t *Task) error {
	t.done = make(chan error, 1)
	if err := d.Submit(t); err != nil {
		return err
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until the context is cancelled. Tasks already
// handed to a worker finish their current attempt before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			err := d.execute(ctx, t)
			if t.done != nil {
				t.done <- err
			}
			if err != nil {
				d.logger.WithContext(ctx).Error().
					Err(err).
					Str("task", t.String()).
					Msg("task failed")
			}
		}
	}
}

// execute runs one task, retrying while the platform is unreachable
func (d *Dispatcher) execute(ctx context.Context, t *Task) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = d.attempt(ctx, t)
		if err == nil || !platform.IsUnreachable(err) || attempt >= d.opts.MaxRetries {
			return err
		}

		d.logger.WithContext(ctx).Warn().
			Err(err).
			Str("task", t.String()).
			Int("attempt", attempt+1).
			Dur("backoff", d.opts.RetryBackoff).
			Msg("platform unreachable, retrying")

		select {
		case <-ctx.Done():
			return err
		case <-time.After(d.opts.RetryBackoff):
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, t *Task) error {
	switch t.Kind {
	case TaskDelete:
		return d.actions.RequestDelete(ctx, t.ID)
	case TaskAdopt:
		_, err := d.actions.RequestAdopt(ctx, t.Handle)
		return err
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}
