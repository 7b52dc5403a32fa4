package queue

import (
	"context"
	"fmt"
	"sync"
)

// Job is the unit put on the delivery queue: one claimed target to send.
type Job struct {
	TargetID int `json:"target_id"`
}

// Queue carries claimed target IDs from the dispatcher to executor workers.
type Queue interface {
	Publish(ctx context.Context, job Job) error
	// Consume blocks delivering jobs to handler until ctx is cancelled.
	// A handler error causes the job to be redelivered once.
	Consume(ctx context.Context, handler func(job Job) error) error
}

// InMemoryQueue is a channel-backed queue for development and tests. Failed
// jobs are redelivered once and then dropped, matching the broker's
// Nack(!redelivered) contract.
type InMemoryQueue struct {
	jobs chan delivery

	mu     sync.Mutex
	closed bool
}

type delivery struct {
	job         Job
	redelivered bool
}

func NewInMemoryQueue(size int) *InMemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &InMemoryQueue{jobs: make(chan delivery, size)}
}

func (q *InMemoryQueue) Publish(ctx context.Context, job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.mu.Unlock()

	select {
	case q.jobs <- delivery{job: job}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Consume(ctx context.Context, handler func(job Job) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := handler(d.job); err != nil && !d.redelivered {
				select {
				case q.jobs <- delivery{job: d.job, redelivered: true}:
				default:
				}
			}
		}
	}
}

// Close stops accepting new jobs.
func (q *InMemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}
