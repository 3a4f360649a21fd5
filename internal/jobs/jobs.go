// Package jobs runs background work units (embedding, tagging, proposition
// extraction) behind one of three interchangeable backends, and provides a
// fan-out helper for running several jobs concurrently and collecting every
// result.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Job is one unit of background work.
type Job func(ctx context.Context) error

// Runner accepts jobs for execution under whatever concurrency model the
// backend implements.
type Runner interface {
	// Submit schedules job for execution. Inline runs it before returning;
	// Thread and Queue return once the job is accepted, not once it's done.
	Submit(ctx context.Context, name string, job Job) error
	// Stats reports how many jobs have completed and failed so far.
	Stats() (completed, failed int64)
	// Shutdown waits for in-flight jobs to finish, up to ctx's deadline.
	Shutdown(ctx context.Context) error
}

// InlineRunner executes every job synchronously on the submitting
// goroutine. Used in tests and single-threaded deployments where
// background latency doesn't matter.
type InlineRunner struct {
	logger    *zap.Logger
	completed int64
	failed    int64
}

// NewInlineRunner creates a runner with no concurrency at all.
func NewInlineRunner(logger *zap.Logger) *InlineRunner {
	return &InlineRunner{logger: logger}
}

func (r *InlineRunner) Submit(ctx context.Context, name string, job Job) error {
	if err := job(ctx); err != nil {
		atomic.AddInt64(&r.failed, 1)
		r.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	atomic.AddInt64(&r.completed, 1)
	return nil
}

func (r *InlineRunner) Stats() (completed, failed int64) {
	return atomic.LoadInt64(&r.completed), atomic.LoadInt64(&r.failed)
}

func (r *InlineRunner) Shutdown(ctx context.Context) error { return nil }

// ThreadRunner spawns one goroutine per job, bounded by a semaphore so an
// unbounded burst of submissions can't exhaust the OS thread pool. Jobs run
// fire-and-forget: Submit returns as soon as the goroutine has been handed
// the job, not when it finishes.
type ThreadRunner struct {
	logger    *zap.Logger
	sem       chan struct{}
	wg        sync.WaitGroup
	completed int64
	failed    int64
}

// NewThreadRunner creates a runner that allows up to maxConcurrent jobs to
// be in flight at once.
func NewThreadRunner(maxConcurrent int, logger *zap.Logger) *ThreadRunner {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &ThreadRunner{logger: logger, sem: make(chan struct{}, maxConcurrent)}
}

func (r *ThreadRunner) Submit(ctx context.Context, name string, job Job) error {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-r.sem }()
		if err := job(ctx); err != nil {
			atomic.AddInt64(&r.failed, 1)
			r.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		atomic.AddInt64(&r.completed, 1)
	}()
	return nil
}

func (r *ThreadRunner) Stats() (completed, failed int64) {
	return atomic.LoadInt64(&r.completed), atomic.LoadInt64(&r.failed)
}

func (r *ThreadRunner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queuedJob pairs a job with the name used in its log lines.
type queuedJob struct {
	name string
	job  Job
}

// QueueRunner runs jobs on a fixed pool of long-lived worker goroutines
// pulling from a shared buffered channel. Unlike an auto-scaling pool,
// its worker count is fixed at construction: this package's jobs are
// short and local, so scaling them adaptively has no payoff.
type QueueRunner struct {
	logger    *zap.Logger
	queue     chan queuedJob
	wg        sync.WaitGroup
	completed int64
	failed    int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueueRunner starts workerCount worker goroutines draining a queue of
// depth queueDepth.
func NewQueueRunner(workerCount, queueDepth int, logger *zap.Logger) *QueueRunner {
	if workerCount <= 0 {
		workerCount = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &QueueRunner{
		logger: logger,
		queue:  make(chan queuedJob, queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	return r
}

func (r *QueueRunner) worker(id int) {
	defer r.wg.Done()
	for {
		var qj queuedJob
		select {
		case <-r.ctx.Done():
			// Shutting down: finish whatever is still queued, then exit.
			select {
			case qj = <-r.queue:
			default:
				return
			}
		case qj = <-r.queue:
		}
		if err := qj.job(context.WithoutCancel(r.ctx)); err != nil {
			atomic.AddInt64(&r.failed, 1)
			r.logger.Error("job failed", zap.Int("worker", id), zap.String("job", qj.name), zap.Error(err))
			continue
		}
		atomic.AddInt64(&r.completed, 1)
	}
}

func (r *QueueRunner) Submit(ctx context.Context, name string, job Job) error {
	if r.ctx.Err() != nil {
		return fmt.Errorf("jobs: queue runner is shut down")
	}
	select {
	case r.queue <- queuedJob{name: name, job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return fmt.Errorf("jobs: queue runner is shut down")
	}
}

func (r *QueueRunner) Stats() (completed, failed int64) {
	return atomic.LoadInt64(&r.completed), atomic.LoadInt64(&r.failed)
}

// Shutdown stops accepting new work, drains what's already queued, and
// waits for every worker to exit.
func (r *QueueRunner) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var (
	_ Runner = (*InlineRunner)(nil)
	_ Runner = (*ThreadRunner)(nil)
	_ Runner = (*QueueRunner)(nil)
)

// FanOut runs every job in jobs concurrently on its own goroutine, waits
// for all to finish regardless of backend, and returns the errors indexed
// the same as the input (nil where a job succeeded).
func FanOut(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			errs[i] = job(ctx)
		}(i, job)
	}
	wg.Wait()
	return errs
}
