package queue

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/sdist-tools/sdist-meta/pkg/types"
)

// Queue hands each enqueued job to exactly one dequeuer.
// Enqueue is rejected once Close has been called; Dequeue keeps draining
// buffered jobs after Close and then reports that the queue is exhausted.
type Queue struct {
	ch     chan types.Job
	mu     sync.Mutex
	closed bool
}

// New returns a queue that buffers up to size jobs.
func New(size int) *Queue {
	return &Queue{
		ch: make(chan types.Job, size),
	}
}

// Enqueue appends a job without blocking. A full or closed queue is an error.
func (q *Queue) Enqueue(job types.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return xerrors.Errorf("unable to enqueue %s: queue is closed", job.Path)
	}

	select {
	case q.ch <- job:
		return nil
	default:
		return xerrors.Errorf("unable to enqueue %s: queue is full", job.Path)
	}
}

// Close marks the end of job discovery. Safe to call once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Dequeue blocks until a job is available. It returns false once the queue is
// closed and drained, or once ctx is canceled.
func (q *Queue) Dequeue(ctx context.Context) (types.Job, bool) {
	select {
	case job, ok := <-q.ch:
		if !ok {
			return types.Job{}, false
		}
		return job, true
	case <-ctx.Done():
		return types.Job{}, false
	}
}

// Len returns the number of buffered jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}
