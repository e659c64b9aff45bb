// Package batch drives per-target work in sequential or chunked concurrent
// mode and accumulates a run summary.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mcp-directory-crawler/internal/logging"
	"github.com/JakeFAU/mcp-directory-crawler/internal/metrics"
)

// Outcome classifies a successfully processed target.
type Outcome string

// Target outcomes recorded in the summary.
const (
	OutcomeAdded   Outcome = "added"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	outcomeFailed          = "failed"
)

// Func processes one target.
type Func[T any] func(ctx context.Context, item T) (Outcome, error)

// Config controls chunking and pacing.
type Config struct {
	// ChunkSize is the number of targets run in parallel in concurrent mode.
	ChunkSize int
	// Concurrent runs each chunk in parallel. Otherwise targets run one by one.
	Concurrent bool
	// Delay separates targets (sequential) or chunks (concurrent).
	Delay time.Duration
	// MaxTargets caps the number of targets processed; zero means no cap.
	MaxTargets int
}

// Driver runs batches.
type Driver struct {
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// Option customizes a Driver.
type Option func(*Driver)

// WithSleep replaces the pause between targets or chunks.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(d *Driver) { d.sleep = fn }
}

// New builds a Driver.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Driver {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1
	}
	d := &Driver{cfg: cfg, logger: logging.OrNop(logger).Named("batch"), sleep: sleepContext}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Process runs fn over items and returns the run summary. It never returns
// an error: failures and panics are recorded per target, and a canceled
// context stops scheduling further targets.
func Process[T any](ctx context.Context, d *Driver, items []T, name func(T) string, fn Func[T]) *Summary {
	summary := &Summary{}
	if d.cfg.MaxTargets > 0 && len(items) > d.cfg.MaxTargets {
		items = items[:d.cfg.MaxTargets]
	}
	mode := "sequential"
	if d.cfg.Concurrent {
		mode = "concurrent"
	}
	d.logger.Info("batch started", zap.Int("targets", len(items)), zap.String("mode", mode), zap.Int("chunk_size", d.cfg.ChunkSize))

	run := func(item T) {
		runOne(ctx, d.logger, summary, name(item), item, fn)
	}

	if d.cfg.Concurrent {
		for start := 0; start < len(items); start += d.cfg.ChunkSize {
			if start > 0 && !d.pause(ctx) {
				break
			}
			end := min(start+d.cfg.ChunkSize, len(items))
			var wg sync.WaitGroup
			for _, item := range items[start:end] {
				wg.Add(1)
				go func(it T) {
					defer wg.Done()
					run(it)
				}(item)
			}
			wg.Wait()
		}
	} else {
		for i, item := range items {
			if i > 0 && !d.pause(ctx) {
				break
			}
			run(item)
		}
	}

	d.logger.Info("batch finished",
		zap.Int("crawled", summary.Crawled),
		zap.Int("added", summary.Added),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
	)
	return summary
}

func runOne[T any](ctx context.Context, logger *zap.Logger, summary *Summary, name string, item T, fn Func[T]) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("target panicked", zap.String("target", name), zap.Any("panic", r))
			summary.Fail(name, fmt.Errorf("panic: %v", r))
			metrics.ObserveTarget(outcomeFailed)
		}
	}()
	outcome, err := fn(ctx, item)
	if err != nil {
		logger.Error("target failed", zap.String("target", name), zap.Error(err))
		summary.Fail(name, err)
		metrics.ObserveTarget(outcomeFailed)
		return
	}
	summary.Record(name, outcome)
	metrics.ObserveTarget(string(outcome))
}

// pause waits for the configured delay and reports whether the run should
// continue.
func (d *Driver) pause(ctx context.Context) bool {
	if ctx.Err() != nil {
		d.logger.Warn("batch canceled", zap.Error(ctx.Err()))
		return false
	}
	if err := d.sleep(ctx, d.cfg.Delay); err != nil {
		d.logger.Warn("batch canceled", zap.Error(err))
		return false
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("batch delay: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
