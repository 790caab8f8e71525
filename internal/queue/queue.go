// Package queue holds smoke targets waiting to be visited, highest priority
// first.
package queue

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Target is a page the smoke runner visits.
type Target struct {
	ID        string
	URL       string
	Name      string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

type Queue interface {
	Push(target *Target) error
	TryPop() (*Target, error)
	Size() int
	Close() error
}

type InMemoryQueue struct {
	mu      sync.Mutex
	targets []*Target
	closed  bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		targets: make([]*Target, 0),
	}
}

func (q *InMemoryQueue) Push(target *Target) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.push(target); err != nil {
		return err
	}
	q.sortByPriority()
	return nil
}

// PushBatch adds targets in order and sorts once. It stops at the first
// rejected target.
func (q *InMemoryQueue) PushBatch(targets []*Target) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	defer q.sortByPriority()

	for _, target := range targets {
		if err := q.push(target); err != nil {
			return err
		}
	}
	return nil
}

func (q *InMemoryQueue) push(target *Target) error {
	if q.closed {
		return ErrQueueClosed
	}
	if target.CreatedAt.IsZero() {
		target.CreatedAt = time.Now()
	}
	q.targets = append(q.targets, target)
	return nil
}

// TryPop returns the highest priority target, ErrQueueEmpty when there is
// none, or ErrQueueClosed once a closed queue is drained.
func (q *InMemoryQueue) TryPop() (*Target, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.targets) == 0 {
		if q.closed {
			return nil, ErrQueueClosed
		}
		return nil, ErrQueueEmpty
	}

	target := q.targets[0]
	q.targets[0] = nil
	q.targets = q.targets[1:]
	return target, nil
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.targets)
}

// Close rejects further pushes. Queued targets can still be popped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// sortByPriority keeps insertion order among equal priorities.
func (q *InMemoryQueue) sortByPriority() {
	slices.SortStableFunc(q.targets, func(a, b *Target) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
}
