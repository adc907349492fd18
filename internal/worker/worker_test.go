package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kblocks/internal/api"
	"kblocks/internal/events"
	"kblocks/internal/partition"
	"kblocks/internal/synth"
	"kblocks/pkg/objuri"
)

var queues = objuri.Channel{Group: "acme.com", Version: "v1", Plural: "queues", System: "test"}

type fakePipeline struct {
	mu      sync.Mutex
	seen    []string
	block   chan struct{}
	started chan struct{}
	ctxErrs []error
	panicOn string
}

func (f *fakePipeline) Run(ctx context.Context, ev api.ChangeEvent) (synth.Outcome, error) {
	name := ev.Object.GetName()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if name == f.panicOn {
		panic("boom")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, name)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return synth.Succeeded, nil
}

func (f *fakePipeline) Seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func event(name string) api.ChangeEvent {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{"apiVersion": "acme.com/v1", "kind": "Queue"}}
	obj.SetNamespace("default")
	obj.SetName(name)
	return api.ChangeEvent{WatchKind: api.WatchAdded, Object: obj}
}

func newLoop(t *testing.T, q partition.Queue, p Pipeline, rec *events.Recorder, owner string) *Loop {
	t.Helper()
	l, err := NewLoop(Options{
		Partition:    0,
		Owner:        owner,
		Channel:      queues,
		Queue:        q,
		Pipeline:     p,
		Emitter:      rec,
		PollInterval: 10 * time.Millisecond,
		LeaseTTL:     60 * time.Millisecond,
	})
	require.NoError(t, err)
	return l
}

func runAsync(ctx context.Context, l *Loop) chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	return done
}

func TestLoop_ProcessesInOrderAndAcks(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, q.Append(ctx, 0, event(n)))
	}

	p := &fakePipeline{}
	l := newLoop(t, q, p, &events.Recorder{}, "w1")

	runCtx, cancel := context.WithCancel(ctx)
	done := runAsync(runCtx, l)

	require.Eventually(t, func() bool { return l.Processed() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"a", "b", "c"}, p.Seen())
	n, err := q.Len(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	leases, err := q.Leases(ctx)
	require.NoError(t, err)
	assert.Empty(t, leases)
}

func TestLoop_PanicIsReportedAndAcked(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()
	require.NoError(t, q.Append(ctx, 0, event("bad")))
	require.NoError(t, q.Append(ctx, 0, event("good")))

	rec := &events.Recorder{}
	p := &fakePipeline{panicOn: "bad"}
	l := newLoop(t, q, p, rec, "w1")

	runCtx, cancel := context.WithCancel(ctx)
	done := runAsync(runCtx, l)

	require.Eventually(t, func() bool { return l.Processed() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"good"}, p.Seen())
	errs := rec.OfType(api.EventError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "boom")
	assert.Equal(t, queues.Identity("default", "bad").String(), errs[0].ObjURI)
	assert.NotEmpty(t, errs[0].Stack)
}

func TestLoop_ShutdownFinishesInFlightEvent(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()
	require.NoError(t, q.Append(ctx, 0, event("slow")))
	require.NoError(t, q.Append(ctx, 0, event("next")))

	p := &fakePipeline{block: make(chan struct{}), started: make(chan struct{}, 2)}
	l := newLoop(t, q, p, &events.Recorder{}, "w1")

	runCtx, cancel := context.WithCancel(ctx)
	done := runAsync(runCtx, l)

	<-p.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned before the in-flight event finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(p.block)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"slow"}, p.Seen())
	assert.NoError(t, p.ctxErrs[0])

	// only the in-flight event was consumed
	n, err := q.Len(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLoop_ShutdownKeepsLeaseUntilInFlightEventIsAcked(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()
	require.NoError(t, q.Append(ctx, 0, event("slow")))
	require.NoError(t, q.Append(ctx, 0, event("next")))

	p1 := &fakePipeline{block: make(chan struct{}), started: make(chan struct{}, 2)}
	w1 := newLoop(t, q, p1, &events.Recorder{}, "w1")

	runCtx, cancel := context.WithCancel(ctx)
	done1 := runAsync(runCtx, w1)

	<-p1.started
	cancel()

	// a replacement worker must not take the partition while w1 is still
	// reconciling, even after several lease lifetimes
	p2 := &fakePipeline{}
	w2 := newLoop(t, q, p2, &events.Recorder{}, "w2")
	ctx2, cancel2 := context.WithCancel(ctx)
	defer cancel2()
	done2 := runAsync(ctx2, w2)

	time.Sleep(250 * time.Millisecond)
	assert.Empty(t, p2.Seen())
	leases, err := q.Leases(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, "w1", leases[0].Owner)

	close(p1.block)
	require.NoError(t, <-done1)
	assert.Equal(t, []string{"slow"}, p1.Seen())

	require.Eventually(t, func() bool { return w2.Processed() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"next"}, p2.Seen())

	cancel2()
	require.NoError(t, <-done2)
}

func TestLoop_WaitsForForeignLease(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()
	require.NoError(t, q.Claim(ctx, 0, "previous", 50*time.Millisecond))
	require.NoError(t, q.Append(ctx, 0, event("a")))

	p := &fakePipeline{}
	l := newLoop(t, q, p, &events.Recorder{}, "w1")

	runCtx, cancel := context.WithCancel(ctx)
	done := runAsync(runCtx, l)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, p.Seen())

	require.Eventually(t, func() bool { return l.Processed() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestLoop_StopsWhenLeaseIsLost(t *testing.T) {
	ctx := context.Background()
	q := partition.NewMemoryQueue()

	l := newLoop(t, q, &fakePipeline{}, &events.Recorder{}, "w1")
	done := runAsync(ctx, l)

	require.Eventually(t, func() bool {
		leases, _ := q.Leases(ctx)
		return len(leases) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, q.Release(ctx, 0, "w1"))
	require.NoError(t, q.Claim(ctx, 0, "intruder", time.Minute))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lost lease")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after losing the lease")
	}
}

func TestNewLoop_Validation(t *testing.T) {
	_, err := NewLoop(Options{Owner: "w"})
	assert.Error(t, err)

	_, err = NewLoop(Options{Queue: partition.NewMemoryQueue(), Pipeline: &fakePipeline{}, Emitter: &events.Recorder{}})
	assert.Error(t, err)
}
