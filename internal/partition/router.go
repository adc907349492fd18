package partition

import (
	"context"
	"fmt"

	"github.com/spaolacci/murmur3"

	"kblocks/internal/api"
	"kblocks/internal/metrics"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// Index returns the partition of a resource among n partitions.
func Index(namespace, name string, n int) int {
	if n <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(namespace+"/"+name)) % uint32(n))
}

// Router appends change events of one block to their partition.
type Router struct {
	channel    objuri.Channel
	queue      Queue
	partitions int
}

// NewRouter creates a router over n partitions of q.
func NewRouter(channel objuri.Channel, q Queue, n int) (*Router, error) {
	if n < 1 {
		return nil, fmt.Errorf("partition count must be at least 1, got %d", n)
	}
	return &Router{channel: channel, queue: q, partitions: n}, nil
}

// Partitions returns the number of partitions.
func (r *Router) Partitions() int {
	return r.partitions
}

// Route returns the partition of id. It is a pure function of the
// namespace, the name and the partition count.
func (r *Router) Route(id objuri.Identity) int {
	return Index(id.Namespace, id.Name, r.partitions)
}

// Enqueue appends ev to partition index. Failures are logged and returned as
// *api.PartitionRouteError; the router never retries.
func (r *Router) Enqueue(ctx context.Context, index int, ev api.ChangeEvent) error {
	if index < 0 || index >= r.partitions {
		return r.fail(index, ev, fmt.Errorf("partition %d out of range [0,%d)", index, r.partitions))
	}
	if err := r.queue.Append(ctx, index, ev); err != nil {
		return r.fail(index, ev, err)
	}
	if ev.Object != nil {
		logging.Debug("PartitionRouter", "Enqueued %s %s/%s to partition %d",
			ev.WatchKind, ev.Object.GetNamespace(), ev.Object.GetName(), index)
	}
	return nil
}

// Dispatch routes ev by its object and enqueues it.
func (r *Router) Dispatch(ctx context.Context, ev api.ChangeEvent) (int, error) {
	if ev.Object == nil {
		return -1, r.fail(-1, ev, fmt.Errorf("change event has no object"))
	}
	index := r.Route(objuri.FromObject(r.channel, ev.Object))
	return index, r.Enqueue(ctx, index, ev)
}

func (r *Router) fail(index int, ev api.ChangeEvent, err error) error {
	metrics.EnqueueFailuresTotal.Inc()
	rerr := &api.PartitionRouteError{Partition: index, Err: err}
	logging.Error("PartitionRouter", rerr, "Failed to enqueue %s event", ev.WatchKind)
	return rerr
}
