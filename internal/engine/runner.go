package engine

import (
	"context"

	"github.com/google/uuid"
)

// Runner executes operations on a bounded pool, so a caller queueing
// many archive pairs never runs more than the configured number of
// merges at once. Each operation gets its own cancellation handle.
type Runner struct {
	sem chan struct{}
}

// NewRunner creates a runner allowing at most workers concurrent
// operations. workers < 1 is treated as 1.
func NewRunner(workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{sem: make(chan struct{}, workers)}
}

// Operation is a handle to one submitted operation.
type Operation struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel requests the operation stop at its next safe boundary.
func (o *Operation) Cancel() { o.cancel() }

// Wait blocks until the operation finishes and returns its error.
func (o *Operation) Wait() error {
	<-o.done
	return o.err
}

// Submit queues fn for execution. fn starts once a worker slot frees up
// and runs until done or cancelled; the slot is held for its duration.
func (r *Runner) Submit(ctx context.Context, fn func(ctx context.Context) error) *Operation {
	ctx, cancel := context.WithCancel(ctx)
	op := &Operation{ID: uuid.NewString(), cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(op.done)
		defer cancel()

		select {
		case r.sem <- struct{}{}:
			defer func() { <-r.sem }()
		case <-ctx.Done():
			op.err = ctx.Err()
			return
		}
		op.err = fn(ctx)
	}()
	return op
}
