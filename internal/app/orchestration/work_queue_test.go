package orchestration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/pacsight/internal/domain/pipeline"
	"github.com/ahrav/pacsight/pkg/common/logger"
)

func TestWorkQueueRunsEveryJob(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	run := func(_ context.Context, job *pipeline.Job) {
		mu.Lock()
		seen[job.StudyUID()] = true
		mu.Unlock()
	}

	log := logger.New(os.Stderr, logger.LevelError, "queue-test", nil)
	q := newWorkQueue(run, log, 2, 8, time.Second)

	uids := []string{"1.2.3.1", "1.2.3.2", "1.2.3.3", "1.2.3.4"}
	for _, uid := range uids {
		q.enqueue(context.Background(), pipeline.NewJob(uid, time.Now().UTC()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	for _, uid := range uids {
		assert.True(t, seen[uid], "job %s never ran", uid)
	}
}

func TestWorkQueueDropsAfterShutdown(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	ran := 0
	run := func(context.Context, *pipeline.Job) {
		mu.Lock()
		ran++
		mu.Unlock()
	}

	log := logger.New(os.Stderr, logger.LevelError, "queue-test", nil)
	q := newWorkQueue(run, log, 1, 1, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.shutdown(ctx)

	q.enqueue(context.Background(), pipeline.NewJob("1.2.3.9", time.Now().UTC()))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, ran)
}

func TestWorkQueueShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	log := logger.New(os.Stderr, logger.LevelError, "queue-test", nil)
	q := newWorkQueue(func(context.Context, *pipeline.Job) {}, log, 1, 1, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.shutdown(ctx)
	q.shutdown(ctx)
}
