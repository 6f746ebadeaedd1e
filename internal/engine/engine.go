// Package engine ties archive access, comparison, and merging into the
// operations the CLI exposes. It owns cross-process locking and turns
// the synchronous progress callbacks of the lower layers into bus
// events other components can watch.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/chatvault/chatvault/internal/bus"
	"github.com/chatvault/chatvault/internal/config"
	"github.com/chatvault/chatvault/internal/diff"
	"github.com/chatvault/chatvault/internal/lock"
	"github.com/chatvault/chatvault/internal/merge"
	"github.com/chatvault/chatvault/internal/report"
	"github.com/chatvault/chatvault/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine runs archive operations.
type Engine struct {
	cfg    *config.Config
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an engine. A nil bus disables event publishing; a nil
// logger disables logging.
func New(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, bus: b, logger: logger}
}

// DiffOptions control a comparison operation.
type DiffOptions struct {
	// ChatKeys restricts the comparison to the named chat identities.
	ChatKeys []string
}

// MergeOptions control a merge operation.
type MergeOptions struct {
	ChatKeys []string
	DryRun   bool
}

// Diff compares two archives without writing to either. Both are locked
// for the duration so a concurrent merge cannot shift the ground under
// the comparison.
func (e *Engine) Diff(ctx context.Context, sourcePath, targetPath string, opts DiffOptions) (*diff.Summary, error) {
	op := uuid.NewString()
	locks, err := lock.AcquirePair(sourcePath, targetPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = locks.Release() }()

	source, err := store.OpenReadOnly(sourcePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = source.Close() }()
	target, err := store.OpenReadOnly(targetPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = target.Close() }()

	e.publish(bus.KindOpStarted, op, nil)
	e.logger.Info("diff started", zap.String("op", op),
		zap.String("source", sourcePath), zap.String("target", targetPath))

	set, err := diff.Compare(ctx, source, target, diff.Options{
		ChatKeys:       opts.ChatKeys,
		SpoolThreshold: e.cfg.SpoolThreshold,
		Progress:       e.progressFunc(bus.KindCompareProgress, op),
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("compare %s against %s: %w", sourcePath, targetPath, err)
	}
	defer func() { _ = set.Close() }()

	summary := set.Summarize()
	summary.Operation = op
	e.publish(bus.KindOpDone, op, summary)
	return summary, nil
}

// Merge copies everything present in the source archive but missing
// from the target into the target. The source is opened read-only; the
// target is the only archive written. A context cancellation stops the
// merge at the next chat boundary and still returns the report of what
// was applied.
func (e *Engine) Merge(ctx context.Context, sourcePath, targetPath string, opts MergeOptions) (*report.Report, error) {
	op := uuid.NewString()
	locks, err := lock.AcquirePair(sourcePath, targetPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = locks.Release() }()

	source, err := store.OpenReadOnly(sourcePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = source.Close() }()
	target, err := store.Open(targetPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = target.Close() }()

	e.publish(bus.KindOpStarted, op, nil)
	e.logger.Info("merge started", zap.String("op", op),
		zap.String("source", sourcePath), zap.String("target", targetPath),
		zap.Bool("dry_run", opts.DryRun))

	set, err := diff.Compare(ctx, source, target, diff.Options{
		ChatKeys:       opts.ChatKeys,
		SpoolThreshold: e.cfg.SpoolThreshold,
		Progress:       e.progressFunc(bus.KindCompareProgress, op),
	}, e.logger)
	if err != nil {
		return nil, fmt.Errorf("compare %s against %s: %w", sourcePath, targetPath, err)
	}
	defer func() { _ = set.Close() }()

	rep, err := merge.Apply(ctx, set, target, merge.Options{
		Operation:        op,
		DryRun:           opts.DryRun,
		AnomalyThreshold: e.cfg.AnomalyThreshold,
		Checkpoint:       e.progressFunc(bus.KindMergeCheckpoint, op),
	}, e.logger)
	if err != nil {
		return nil, err
	}
	rep.Operation = op
	e.publish(bus.KindOpDone, op, rep)
	return rep, nil
}

func (e *Engine) progressFunc(kind, op string) func(report.Progress) {
	if e.bus == nil {
		return nil
	}
	return func(p report.Progress) {
		e.publish(kind, op, p)
	}
}

func (e *Engine) publish(kind, op string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Operation: op, Timestamp: time.Now(), Payload: payload})
}
