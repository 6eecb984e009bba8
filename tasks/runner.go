// Package tasks orchestrates the per-job import graph: prepare, then a
// fan-out of bounded import windows, then the wrap barrier. Transient
// failures and premature stages retry on a fixed interval; a dump that
// moved past the requested stage is logged and abandoned.
package tasks

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/wdatafacility/wdf/dumps"
	"github.com/wdatafacility/wdf/indexer"
	"github.com/wdatafacility/wdf/source"
)

// Factory builds a fresh Indexer for a job, with its own store handle, plus
// a cleanup releasing those resources. Each import window gets its own.
type Factory func(ctx context.Context, job string) (*indexer.Indexer, func(), error)

// Runner executes import graphs.
type Runner struct {
	// NewIndexer builds the per-stage Indexer.
	NewIndexer Factory
	// GroupSize is the item count of one import window.
	GroupSize int
	// Parallelism bounds concurrently running import windows.
	Parallelism int
	// Expiry bounds one graph end to end.
	Expiry time.Duration
	// RetryInterval and MaxRetries shape the fixed retry policy for
	// transient source failures and premature stages.
	RetryInterval time.Duration
	MaxRetries    uint64
}

const (
	defaultParallelism   = 5
	defaultExpiry        = 24 * time.Hour
	defaultRetryInterval = 5 * time.Second
	defaultMaxRetries    = 10
)

func (r *Runner) parallelism() int {
	if r.Parallelism > 0 {
		return r.Parallelism
	}
	return defaultParallelism
}

func (r *Runner) expiry() time.Duration {
	if r.Expiry > 0 {
		return r.Expiry
	}
	return defaultExpiry
}

func (r *Runner) retryInterval() time.Duration {
	if r.RetryInterval > 0 {
		return r.RetryInterval
	}
	return defaultRetryInterval
}

func (r *Runner) maxRetries() uint64 {
	if r.MaxRetries > 0 {
		return r.MaxRetries
	}
	return defaultMaxRetries
}

// retry runs op under the fixed retry policy. Transient source failures
// and TooEarly stages retry; everything else is permanent.
func (r *Runner) retry(ctx context.Context, op func() error) error {
	var policy = backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(r.retryInterval()), r.maxRetries()), ctx)

	return backoff.Retry(func() error {
		var err = op()
		if err == nil {
			return nil
		}
		var tooEarly *dumps.TooEarlyError
		if source.IsTransient(err) || errors.As(err, &tooEarly) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// PrepareJob runs only the prepare stage under the retry policy.
func (r *Runner) PrepareJob(ctx context.Context, job string) error {
	ctx, cancel := context.WithTimeout(ctx, r.expiry())
	defer cancel()

	var err = r.retry(ctx, func() error {
		idx, cleanup, err := r.NewIndexer(ctx, job)
		if err != nil {
			return err
		}
		defer cleanup()
		return idx.PrepareDump(ctx, 0, math.MaxInt)
	})
	var tooLate *dumps.TooLateError
	if errors.As(err, &tooLate) {
		log.WithField("job", job).WithError(err).Warn("dump already moved past prepare, abandoning job")
		return nil
	}
	return err
}

// ImportJob runs the whole graph for one job: prepare, SCHEDULING, the
// import fan-out, SCHEDULED, and the terminal wrap. A TooLate stage means
// another worker already carried the dump further; the job is abandoned
// without error.
func (r *Runner) ImportJob(ctx context.Context, job string) error {
	ctx, cancel := context.WithTimeout(ctx, r.expiry())
	defer cancel()

	var jobLog = log.WithField("job", job)

	var itemsCrawled int
	var prepare = func() error {
		idx, cleanup, err := r.NewIndexer(ctx, job)
		if err != nil {
			return err
		}
		defer cleanup()

		if err = idx.PrepareDump(ctx, 0, math.MaxInt); err != nil {
			return err
		}
		itemsCrawled = 0
		if n := idx.Dump().ItemsCrawled; n != nil {
			itemsCrawled = *n
		}
		if err = idx.Advance(ctx, dumps.StateScheduling); err != nil {
			return err
		}
		return nil
	}
	if err := r.retry(ctx, prepare); err != nil {
		var tooLate *dumps.TooLateError
		if errors.As(err, &tooLate) {
			jobLog.WithError(err).Warn("dump already moved past prepare, abandoning job")
			return nil
		}
		return err
	}

	var groupSize = r.GroupSize
	if groupSize <= 0 {
		groupSize = itemsCrawled
	}
	var windows = 0
	if itemsCrawled > 0 {
		windows = (itemsCrawled + groupSize - 1) / groupSize
	}

	if err := func() error {
		idx, cleanup, err := r.NewIndexer(ctx, job)
		if err != nil {
			return err
		}
		defer cleanup()
		return idx.Advance(ctx, dumps.StateScheduled)
	}(); err != nil {
		return err
	}
	jobLog.WithFields(log.Fields{
		"items":   itemsCrawled,
		"windows": windows,
	}).Info("dump scheduled, fanning out import windows")

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.parallelism())
	for i := 0; i < windows; i++ {
		var start = i * groupSize
		group.Go(func() error {
			return r.retry(groupCtx, func() error {
				idx, cleanup, err := r.NewIndexer(groupCtx, job)
				if err != nil {
					return err
				}
				defer cleanup()

				// A window observing the dump below PREPARED was scheduled
				// ahead of its predecessor; back off until prepare lands.
				if d := idx.Dump(); d.State < dumps.StatePrepared {
					return &dumps.TooEarlyError{Job: job, State: d.State, Required: dumps.StatePrepared}
				}
				return idx.ImportDump(groupCtx, start, groupSize)
			})
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	var wrap = func() error {
		idx, cleanup, err := r.NewIndexer(ctx, job)
		if err != nil {
			return err
		}
		defer cleanup()
		return idx.WrapDump(ctx)
	}
	if err := r.retry(ctx, wrap); err != nil {
		return err
	}

	jobLog.Info("job imported and wrapped")
	return nil
}
