package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

// workQueue fans ready jobs out to a fixed pool of workers over a bounded
// channel. A full channel applies backpressure to the producer instead of
// dropping work; jobs are durable in the store, so anything lost to a crash
// while queued is repopulated on the next startup.
type workQueue struct {
	run     func(ctx context.Context, job *pipeline.Job)
	logger  *logger.Logger
	workers int
	timeout time.Duration

	ch   chan *pipeline.Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

func newWorkQueue(run func(ctx context.Context, job *pipeline.Job), log *logger.Logger, workers, size int, timeout time.Duration) *workQueue {
	q := &workQueue{
		run:     run,
		logger:  log.With("component", "work_queue"),
		workers: workers,
		timeout: timeout,
		ch:      make(chan *pipeline.Job, size),
	}
	q.start()
	return q
}

func (q *workQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					q.run(ctx, job)
					cancel()
				}

				q.logger.Debug(context.Background(), "worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// enqueue hands a job to the worker pool. After shutdown begins the job is
// dropped; it stays Queued in the store and is resumed on the next startup.
func (q *workQueue) enqueue(ctx context.Context, job *pipeline.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn(ctx, "cannot enqueue: queue is shutting down", "job_id", job.JobID().String())
		return
	}
	select {
	case q.ch <- job:
	default:
		q.logger.Warn(ctx, "queue full, applying backpressure", "job_id", job.JobID().String())
		q.ch <- job
	}
}

// shutdown stops accepting work and waits for in-flight jobs to finish or for
// the context to expire. Interrupted jobs keep a persisted lease and are
// reclaimed once it lapses.
func (q *workQueue) shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn(ctx, "shutdown interrupted by context")
	case <-done:
		q.logger.Info(ctx, "queue drained, shutdown complete")
	}
}
