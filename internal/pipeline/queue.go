// Package pipeline implements the bounded stage-to-stage queues and the
// health/event surface the monitor uses to observe them; the orchestrator
// that wires C1-C5 together lives in internal/session. Grounded on the teacher's
// internal/pipeline/queue.go and worker.go, generalized from a
// priority-tiered transcription queue tied to one transcriber into a plain
// generic FIFO usable between any two stages.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	pipelineerrors "github.com/fankserver/meetcap/internal/errors"
)

// Queue is a bounded FIFO channel-backed queue carrying items of one type
// between two pipeline stages (spec.md section 4.5): single-producer,
// single-consumer per stage, preserving arrival order end-to-end.
type Queue[T any] struct {
	ch   chan T
	name string

	queued    int64
	processed int64
	dropped   int64

	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry
}

// NewQueue creates a bounded queue of the given capacity
// (max_processing_queue_size, spec.md section 6).
func NewQueue[T any](name string, capacity int) *Queue[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue[T]{
		ch:     make(chan T, capacity),
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		logger: logrus.WithField("queue", name),
	}
}

// Push blocks (cooperatively, respecting ctx) until the item is enqueued or
// the queue is stopped. This is the default discipline for C2-C5 producers:
// a slow downstream stage throttles its upstream producer (spec.md
// section 4.5).
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		atomic.AddInt64(&q.queued, 1)
		return nil
	case <-q.ctx.Done():
		return pipelineerrors.ErrQueueStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushDropOldest is the audio-queue-only discipline (spec.md section 4.5):
// capture is never blocked by downstream stages. If the queue is full, the
// oldest unconsumed item is discarded to make room and the push always
// succeeds, reporting whether a drop occurred.
func (q *Queue[T]) PushDropOldest(item T) (dropped bool) {
	select {
	case q.ch <- item:
		atomic.AddInt64(&q.queued, 1)
		return false
	default:
	}

	select {
	case <-q.ch:
		atomic.AddInt64(&q.dropped, 1)
	default:
	}

	select {
	case q.ch <- item:
		atomic.AddInt64(&q.queued, 1)
	default:
		atomic.AddInt64(&q.dropped, 1)
		return true
	}
	return true
}

// Pop blocks until an item is available or ctx/the queue is cancelled.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	select {
	case item, ok := <-q.ch:
		if !ok {
			return zero, false
		}
		atomic.AddInt64(&q.processed, 1)
		return item, true
	case <-q.ctx.Done():
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}

// Len reports the current queue depth.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap reports the queue's configured capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Stats snapshots the queue's lifetime counters for the monitor.
type Stats struct {
	Name      string
	Depth     int
	Capacity  int
	Queued    int64
	Processed int64
	Dropped   int64
}

// Stats returns a point-in-time snapshot.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:      q.name,
		Depth:     q.Len(),
		Capacity:  q.Cap(),
		Queued:    atomic.LoadInt64(&q.queued),
		Processed: atomic.LoadInt64(&q.processed),
		Dropped:   atomic.LoadInt64(&q.dropped),
	}
}

// Close stops the queue. Pending Pushes/Pops unblock with failure.
func (q *Queue[T]) Close() {
	q.cancel()
	q.logger.WithField("stats", q.Stats()).Debug("Queue closed")
}

// waitDrain blocks until the queue empties or the deadline passes, used by
// the orchestrator's graceful stop(force=false) path (spec.md section 4.7).
func (q *Queue[T]) waitDrain(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.Len() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
