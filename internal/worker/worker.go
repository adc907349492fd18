// Package worker drains one partition queue through the reconciliation
// pipeline.
//
// A Loop owns its partition through a lease, processes events strictly one at
// a time in FIFO order, and acknowledges an event only after the pipeline
// returned for it, whatever the outcome. On shutdown the in-flight event is
// finished before the lease is released.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"kblocks/internal/api"
	"kblocks/internal/events"
	"kblocks/internal/metrics"
	"kblocks/internal/partition"
	"kblocks/internal/synth"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// Defaults applied by NewLoop.
const (
	DefaultPollInterval = time.Second
	DefaultLeaseTTL     = 30 * time.Second
)

// Pipeline processes a single change event.
type Pipeline interface {
	Run(ctx context.Context, ev api.ChangeEvent) (synth.Outcome, error)
}

// Options configures a Loop.
type Options struct {
	Partition int
	Owner     string
	Channel   objuri.Channel

	Queue    partition.Queue
	Pipeline Pipeline
	Emitter  events.Emitter

	// PollInterval bounds the wait on an empty partition.
	PollInterval time.Duration

	// LeaseTTL is the lease lifetime; it is renewed every third of it.
	LeaseTTL time.Duration
}

// Loop is the worker of one partition.
type Loop struct {
	opts  Options
	label string

	mu        sync.Mutex
	processed int
}

// NewLoop creates a worker loop.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Queue == nil || opts.Pipeline == nil || opts.Emitter == nil {
		return nil, fmt.Errorf("worker requires a queue, pipeline and emitter")
	}
	if opts.Owner == "" {
		return nil, fmt.Errorf("worker requires an owner id")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	return &Loop{opts: opts, label: strconv.Itoa(opts.Partition)}, nil
}

// Processed returns the number of events acknowledged so far.
func (l *Loop) Processed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed
}

// Run claims the partition and processes events until ctx is cancelled or the
// lease is lost. A cancelled context is a clean shutdown and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.claim(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	logging.Info("Worker", "Partition %d claimed by %s", l.opts.Partition, l.opts.Owner)

	// loopCtx stops new pulls. The heartbeat outlives it until the in-flight
	// event is acked, so the lease cannot expire under a running pass.
	loopCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHeartbeat()

	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		l.heartbeat(hbCtx, cancel)
	}()

	l.drain(loopCtx)

	stopHeartbeat()
	hb.Wait()
	cancel(nil)
	l.release()

	if cause := context.Cause(loopCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// claim waits until the lease can be taken. A lease held by another owner is
// retried each poll interval, since it expires when that owner is gone.
func (l *Loop) claim(ctx context.Context) error {
	for {
		err := l.opts.Queue.Claim(ctx, l.opts.Partition, l.opts.Owner, l.opts.LeaseTTL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, partition.ErrLeaseHeld) {
			return fmt.Errorf("failed to claim partition %d: %w", l.opts.Partition, err)
		}
		logging.Debug("Worker", "Waiting for partition %d: %v", l.opts.Partition, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.PollInterval):
		}
	}
}

func (l *Loop) heartbeat(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(l.opts.LeaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := l.opts.Queue.Renew(ctx, l.opts.Partition, l.opts.Owner, l.opts.LeaseTTL)
			if err == nil {
				continue
			}
			if errors.Is(err, partition.ErrLeaseHeld) {
				logging.Error("Worker", err, "Lost lease of partition %d", l.opts.Partition)
				cancel(fmt.Errorf("lost lease of partition %d: %w", l.opts.Partition, err))
				return
			}
			if ctx.Err() == nil {
				logging.Warn("Worker", "Failed to renew lease of partition %d: %v", l.opts.Partition, err)
			}
		}
	}
}

func (l *Loop) drain(ctx context.Context) {
	for ctx.Err() == nil {
		item, ok, err := l.opts.Queue.Pull(ctx, l.opts.Partition, l.opts.PollInterval)
		if err != nil {
			logging.Error("Worker", err, "Failed to pull from partition %d", l.opts.Partition)
			select {
			case <-ctx.Done():
			case <-time.After(l.opts.PollInterval):
			}
			continue
		}
		if !ok {
			continue
		}

		// The pass and its ack finish even when shutdown starts meanwhile.
		work := context.WithoutCancel(ctx)
		l.process(work, item)
		if err := l.opts.Queue.Ack(work, l.opts.Partition, item.ID); err != nil {
			logging.Error("Worker", err, "Failed to ack event %d of partition %d", item.ID, l.opts.Partition)
		}

		l.mu.Lock()
		l.processed++
		l.mu.Unlock()

		if n, err := l.opts.Queue.Len(work, l.opts.Partition); err == nil {
			metrics.QueueDepth.WithLabelValues(l.label).Set(float64(n))
		}
	}
}

// process runs the pipeline for one item. Panics are recovered and reported
// as ERROR events so the item is still acknowledged.
func (l *Loop) process(ctx context.Context, item partition.Item) {
	id := l.identity(item.Event)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic: %v", r)
			logging.Error("Worker", err, "Recovered while processing %s", id)
			l.opts.Emitter.Emit(api.NewErrorEvent(id, item.Event.RequestID, err, string(debug.Stack())))
		}
	}()

	logging.Debug("Worker", "Processing %s %s (event %d, partition %d)",
		item.Event.WatchKind, id, item.ID, l.opts.Partition)

	outcome, err := l.opts.Pipeline.Run(ctx, item.Event)
	if err != nil {
		logging.Warn("Worker", "%s %s finished %s: %v", item.Event.WatchKind, id, outcome, err)
		return
	}
	logging.Debug("Worker", "%s %s finished %s", item.Event.WatchKind, id, outcome)
}

func (l *Loop) identity(ev api.ChangeEvent) objuri.Identity {
	if ev.Object == nil {
		return l.opts.Channel.Identity("", "")
	}
	return objuri.FromObject(l.opts.Channel, ev.Object)
}

func (l *Loop) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.opts.Queue.Release(ctx, l.opts.Partition, l.opts.Owner); err != nil {
		logging.Warn("Worker", "Failed to release partition %d: %v", l.opts.Partition, err)
		return
	}
	logging.Info("Worker", "Partition %d released by %s", l.opts.Partition, l.opts.Owner)
}
