package partition

import (
	"context"
	"errors"
	"time"

	"kblocks/internal/api"
)

// ErrLeaseHeld is returned by Claim and Renew when another owner holds an
// unexpired lease on the partition.
var ErrLeaseHeld = errors.New("partition lease held by another owner")

// Item is a queued change event.
type Item struct {
	// ID orders items within a partition and is passed back to Ack.
	ID int64

	Partition  int
	Event      api.ChangeEvent
	EnqueuedAt time.Time
}

// Lease describes the current owner of a partition.
type Lease struct {
	Partition int
	Owner     string
	ExpiresAt time.Time
}

// Queue is a set of FIFO partitions with per-partition leases.
type Queue interface {
	// Append adds ev to the tail of partition p.
	Append(ctx context.Context, p int, ev api.ChangeEvent) error

	// Pull returns the head of partition p without removing it. When the
	// partition is empty it waits up to wait for an item; ok is false if none
	// arrived.
	Pull(ctx context.Context, p int, wait time.Duration) (item Item, ok bool, err error)

	// Ack removes the item with the given ID from partition p.
	Ack(ctx context.Context, p int, id int64) error

	// Len returns the number of pending items in partition p.
	Len(ctx context.Context, p int) (int, error)

	// Claim takes the lease of partition p for owner. It succeeds when the
	// partition is free, the previous lease expired, or owner already holds it.
	Claim(ctx context.Context, p int, owner string, ttl time.Duration) error

	// Renew extends owner's lease.
	Renew(ctx context.Context, p int, owner string, ttl time.Duration) error

	// Release gives up owner's lease. Releasing a lease not held is a no-op.
	Release(ctx context.Context, p int, owner string) error

	// Leases lists the current leases.
	Leases(ctx context.Context) ([]Lease, error)

	Close() error
}
