package partition

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kblocks/internal/api"
)

// MemoryQueue implements Queue in process memory. Nothing survives a restart.
type MemoryQueue struct {
	mu sync.Mutex

	// partitions holds items in FIFO order per partition
	partitions map[int][]Item

	// leases tracks the owner of each partition
	leases map[int]Lease

	nextID int64

	// cond wakes waiting Pull calls on Append and Close
	cond *sync.Cond

	closed bool
	now    func() time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		partitions: make(map[int][]Item),
		leases:     make(map[int]Lease),
		now:        time.Now,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Append implements Queue.
func (q *MemoryQueue) Append(_ context.Context, p int, ev api.ChangeEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue closed")
	}

	q.nextID++
	q.partitions[p] = append(q.partitions[p], Item{
		ID:         q.nextID,
		Partition:  p,
		Event:      ev,
		EnqueuedAt: q.now(),
	})
	q.cond.Broadcast()
	return nil
}

// Pull implements Queue.
func (q *MemoryQueue) Pull(ctx context.Context, p int, wait time.Duration) (Item, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	// Wait for item, timeout or close
	for len(q.partitions[p]) == 0 && !q.closed {
		select {
		case <-ctx.Done():
			return Item{}, false, nil
		default:
		}

		// The goroutine races context expiry against a normal wakeup.
		// Closing done makes it exit regardless of which wins.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()

		q.cond.Wait()
		close(done)
	}

	if len(q.partitions[p]) == 0 {
		return Item{}, false, nil
	}
	return q.partitions[p][0], true, nil
}

// Ack implements Queue.
func (q *MemoryQueue) Ack(_ context.Context, p int, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.partitions[p]
	for i, it := range items {
		if it.ID == id {
			q.partitions[p] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len implements Queue.
func (q *MemoryQueue) Len(_ context.Context, p int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.partitions[p]), nil
}

// Claim implements Queue.
func (q *MemoryQueue) Claim(_ context.Context, p int, owner string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked(p, owner, ttl, true)
}

// Renew implements Queue.
func (q *MemoryQueue) Renew(_ context.Context, p int, owner string, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked(p, owner, ttl, false)
}

func (q *MemoryQueue) takeLocked(p int, owner string, ttl time.Duration, allowTakeover bool) error {
	now := q.now()
	if l, ok := q.leases[p]; ok && l.Owner != owner {
		if !allowTakeover || now.Before(l.ExpiresAt) {
			return fmt.Errorf("partition %d: %w (owner %s)", p, ErrLeaseHeld, l.Owner)
		}
	} else if !ok && !allowTakeover {
		return fmt.Errorf("partition %d: lease of %s not found", p, owner)
	}
	q.leases[p] = Lease{Partition: p, Owner: owner, ExpiresAt: now.Add(ttl)}
	return nil
}

// Release implements Queue.
func (q *MemoryQueue) Release(_ context.Context, p int, owner string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if l, ok := q.leases[p]; ok && l.Owner == owner {
		delete(q.leases, p)
	}
	return nil
}

// Leases implements Queue.
func (q *MemoryQueue) Leases(_ context.Context) ([]Lease, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Lease, 0, len(q.leases))
	for _, l := range q.leases {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Partition < out[j].Partition })
	return out, nil
}

// Close wakes all waiters. Pending items are dropped with the queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}
