package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// ErrRunInProgress is returned when another run holds the lock.
var ErrRunInProgress = errors.New("pipeline: a run is already in progress")

const defaultPublishTimeout = 30 * time.Second

// Batch is a single run of the batch. *Orchestrator satisfies it.
type Batch interface {
	Run(ctx context.Context) (*summary.Summary, error)
}

// Locker guards a run across processes. ok is false when another holder has it.
type Locker interface {
	TryLock(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// Runner serialises runs and hands each finished summary to the publishers.
type Runner struct {
	batch          Batch
	logger         *logging.Logger
	lock           Locker
	publishers     []summary.Publisher
	publishTimeout time.Duration
	mu             sync.Mutex
}

// NewRunner wraps a batch.
func NewRunner(batch Batch, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{batch: batch, logger: logger, publishTimeout: defaultPublishTimeout}
}

// WithLock adds a distributed lock on top of the in-process one.
func (r *Runner) WithLock(l Locker) *Runner {
	r.lock = l
	return r
}

// WithPublishers appends summary publishers; nil entries are ignored.
func (r *Runner) WithPublishers(pubs ...summary.Publisher) *Runner {
	for _, p := range pubs {
		if p != nil {
			r.publishers = append(r.publishers, p)
		}
	}
	return r
}

// Run executes one batch unless one is already running. Publisher failures
// are logged and never change the result.
func (r *Runner) Run(ctx context.Context) (*summary.Summary, error) {
	if !r.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.mu.Unlock()

	if r.lock != nil {
		release, ok, err := r.lock.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("pipeline: acquire run lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("run lock release failed", "error", err)
			}
		}()
	}

	sum, runErr := r.batch.Run(ctx)
	if sum != nil {
		r.publish(ctx, sum)
	}
	return sum, runErr
}

func (r *Runner) publish(ctx context.Context, sum *summary.Summary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.publishTimeout)
	defer cancel()
	for _, p := range r.publishers {
		if err := p.Publish(ctx, sum); err != nil {
			r.logger.Error("summary publish failed", "publisher", p.Name(), "run_id", sum.RunID, "error", err)
			continue
		}
		r.logger.Debug("summary published", "publisher", p.Name(), "run_id", sum.RunID)
	}
}
