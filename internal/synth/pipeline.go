package synth

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kblocks/internal/api"
	"kblocks/internal/engine"
	"kblocks/internal/events"
	"kblocks/internal/metrics"
	"kblocks/internal/notify"
	"kblocks/internal/refs"
	"kblocks/internal/status"
	"kblocks/internal/store"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
	kstrings "kblocks/pkg/strings"
)

// Outcome is the terminal state of a pass.
type Outcome string

const (
	Skipped   Outcome = "Skipped"
	Succeeded Outcome = "Succeeded"
	Deleted   Outcome = "Deleted"
	Read      Outcome = "Read"
	Failed    Outcome = "Failed"
)

// Ready condition reasons.
const (
	ReasonProgressing = "Progressing"
	ReasonCompleted   = "Completed"
	ReasonError       = "Error"

	MessageResolving = "Resolving references"
)

// Options wires a Pipeline.
type Options struct {
	// Channel is the block's resource type and system.
	Channel objuri.Channel

	// Engine is the block's engine string, e.g. "wing/k8s".
	Engine string

	Store    store.Store
	Resolver *refs.Resolver
	Registry *engine.Registry
	Emitter  events.Emitter

	// Notifier is optional.
	Notifier notify.Notifier

	// Now overrides the pass clock.
	Now func() time.Time
}

// Pipeline reconciles change events of one block.
type Pipeline struct {
	channel  objuri.Channel
	engine   string
	adapter  engine.Adapter
	store    store.Store
	resolver *refs.Resolver
	emitter  events.Emitter
	notifier notify.Notifier
	now      func() time.Time
}

// New creates a pipeline. The engine adapter is resolved here, so an unknown
// engine fails at startup with an *api.EngineError.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil || opts.Resolver == nil || opts.Registry == nil || opts.Emitter == nil {
		return nil, fmt.Errorf("pipeline requires a store, resolver, registry and emitter")
	}
	adapter, err := opts.Registry.Resolve(opts.Engine)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		channel:  opts.Channel,
		engine:   opts.Engine,
		adapter:  adapter,
		store:    opts.Store,
		resolver: opts.Resolver,
		emitter:  opts.Emitter,
		notifier: opts.Notifier,
		now:      now,
	}, nil
}

// pass carries the state of one Run.
type pass struct {
	p     *Pipeline
	id    objuri.Identity
	reqID string
	clock status.Clock
}

// Run reconciles ev. The error is non-nil exactly when the outcome is Failed;
// it has already been reported to the event sink when Run returns.
func (p *Pipeline) Run(ctx context.Context, ev api.ChangeEvent) (Outcome, error) {
	if ev.Object == nil {
		return Failed, &api.ProtocolError{Reason: "change event has no object"}
	}

	began := time.Now()
	ps := &pass{
		p:     p,
		id:    objuri.FromObject(p.channel, ev.Object),
		reqID: ev.RequestID,
		clock: status.NewClock(p.now()),
	}

	ctx, span := otel.Tracer("kblocks/synth").Start(ctx, "kblocks.synth.Run", trace.WithAttributes(
		attribute.String("kblocks.object_uri", ps.id.String()),
		attribute.String("kblocks.watch_event", string(ev.WatchKind)),
		attribute.String("kblocks.request_id", ev.RequestID),
	))
	defer span.End()

	outcome, err := ps.run(engine.WithLogSink(ctx, ps.log), ev)

	span.SetAttributes(attribute.String("kblocks.outcome", string(outcome)))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
	metrics.ReconcileDuration.WithLabelValues(string(outcome)).Observe(time.Since(began).Seconds())
	return outcome, err
}

func (ps *pass) run(ctx context.Context, ev api.ChangeEvent) (Outcome, error) {
	switch ev.WatchKind {
	case api.WatchModified:
		if statusOnlyWrite(ev.Object) {
			logging.Debug("Synth", "Skipping status-only change of %s", ps.id)
			return Skipped, nil
		}
		return ps.apply(ctx, ev.Object)
	case api.WatchAdded, api.WatchSync:
		return ps.apply(ctx, ev.Object)
	case api.WatchDeleted:
		return ps.teardown(ctx, ev.Object)
	case api.WatchRead:
		return ps.read(ctx, ev.Object)
	default:
		err := &api.ProtocolError{Reason: fmt.Sprintf("unknown watch event %q", ev.WatchKind)}
		ps.p.emitter.Emit(api.NewErrorEvent(ps.id, ps.reqID, err, ""))
		return Failed, err
	}
}

func (ps *pass) apply(ctx context.Context, obj *unstructured.Unstructured) (Outcome, error) {
	logging.Info("Synth", "Reconciling %s", ps.id)
	ps.announce(ctx)

	resolved, err := ps.p.resolver.Resolve(ctx, obj, ps)
	if err != nil {
		return ps.fail(ctx, err, true)
	}

	outputs, err := ps.p.adapter.Apply(ctx, resolved, false)
	if err != nil {
		return ps.fail(ctx, wrapEngine(ps.p.engine, err), true)
	}

	delta := status.WithConditions(outputs, ps.clock.Ready(true, ReasonCompleted, ""))
	if err := ps.patchStatus(ctx, delta); err != nil {
		return ps.fail(ctx, err, false)
	}

	ps.lifecycle(api.LifecycleNormal, api.LifecycleUpdateSucceeded, "Reconciled")
	ps.notify(ctx, obj, Succeeded, "")
	logging.Info("Synth", "Reconciled %s", ps.id)
	return Succeeded, nil
}

func (ps *pass) teardown(ctx context.Context, obj *unstructured.Unstructured) (Outcome, error) {
	logging.Info("Synth", "Tearing down %s", ps.id)
	ps.lifecycle(api.LifecycleNormal, api.LifecycleUpdateStarted, "Deleting")

	// The object may already be gone; fail tolerates a missing one.
	resolved, err := ps.p.resolver.Resolve(ctx, obj, ps)
	if err != nil {
		return ps.fail(ctx, err, true)
	}
	if _, err := ps.p.adapter.Apply(ctx, resolved, true); err != nil {
		return ps.fail(ctx, wrapEngine(ps.p.engine, err), true)
	}

	ps.p.emitter.Emit(api.NewObjectEvent(ps.id, ps.reqID, nil, api.ReasonSync))
	ps.notify(ctx, obj, Deleted, "")
	logging.Info("Synth", "Deleted %s", ps.id)
	return Deleted, nil
}

// read reports the adapter's current outputs without writing to the store.
// A missing object is reported as an empty one.
func (ps *pass) read(ctx context.Context, _ *unstructured.Unstructured) (Outcome, error) {
	current, err := ps.p.store.Get(ctx, ps.id)
	if apierrors.IsNotFound(err) {
		ps.p.emitter.Emit(api.NewObjectEvent(ps.id, ps.reqID, nil, api.ReasonRead))
		return Read, nil
	}
	if err != nil {
		return ps.fail(ctx, err, false)
	}

	reader, ok := ps.p.adapter.(engine.Reader)
	if !ok {
		ps.p.emitter.Emit(api.NewObjectEvent(ps.id, ps.reqID, current.Object, api.ReasonRead))
		return Read, nil
	}

	resolved, err := ps.p.resolver.Resolve(ctx, current, ps)
	if err != nil {
		return ps.fail(ctx, err, false)
	}
	outputs, err := reader.Read(ctx, resolved)
	if err != nil {
		return ps.fail(ctx, wrapEngine(ps.p.engine, err), false)
	}

	doc := current.DeepCopy()
	st, _, _ := unstructured.NestedMap(doc.Object, "status")
	merged := st
	if merged == nil {
		merged = map[string]interface{}{}
	}
	for k, v := range status.Reduce(st, outputs) {
		merged[k] = v
	}
	doc.Object["status"] = merged

	ps.p.emitter.Emit(api.NewObjectEvent(ps.id, ps.reqID, doc.Object, api.ReasonRead))
	return Read, nil
}

// announce marks the object as progressing. A failure here is logged only;
// the pass goes on.
func (ps *pass) announce(ctx context.Context) {
	ps.lifecycle(api.LifecycleNormal, api.LifecycleUpdateStarted, "Reconciling")
	delta := status.WithConditions(nil, ps.clock.Ready(false, ReasonProgressing, MessageResolving))
	if err := ps.patchStatus(ctx, delta); err != nil {
		logging.Warn("Synth", "Failed to mark %s as progressing: %v", ps.id, err)
	}
}

// patchStatus reduces delta against the stored status, writes the patch to the
// status subresource and reports it as a PATCH event.
func (ps *pass) patchStatus(ctx context.Context, delta map[string]interface{}) error {
	current, err := ps.p.store.Get(ctx, ps.id)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", ps.id, err)
	}
	st, _, _ := unstructured.NestedMap(current.Object, "status")

	patch := status.Reduce(st, delta)
	if err := ps.p.store.PatchStatus(ctx, ps.id, patch); err != nil {
		return fmt.Errorf("failed to patch status of %s: %w", ps.id, err)
	}
	ps.p.emitter.Emit(api.NewPatchEvent(ps.id, ps.reqID, map[string]interface{}{"status": patch}))
	return nil
}

// fail reports err and, when markNotReady is set, writes Ready=False with the
// error message.
func (ps *pass) fail(ctx context.Context, err error, markNotReady bool) (Outcome, error) {
	logging.Error("Synth", err, "Reconciliation of %s failed", ps.id)

	ps.p.emitter.Emit(api.NewErrorEvent(ps.id, ps.reqID, err, string(debug.Stack())))
	ps.lifecycle(api.LifecycleWarning, api.LifecycleUpdateFailed, err.Error())

	if markNotReady {
		delta := status.WithConditions(nil, ps.clock.Ready(false, ReasonError, err.Error()))
		switch perr := ps.patchStatus(ctx, delta); {
		case perr == nil:
		case apierrors.IsNotFound(perr):
			logging.Debug("Synth", "%s is gone, not recording the failure", ps.id)
		default:
			logging.Warn("Synth", "Failed to record failure on %s: %v", ps.id, perr)
		}
	}

	ps.notifyFailure(ctx, err)
	return Failed, err
}

// log forwards an engine output line as a LOG event.
func (ps *pass) log(level, line string) {
	ps.p.emitter.Emit(api.NewLogEvent(ps.id, ps.reqID, level, line))
}

func (ps *pass) lifecycle(eventType, reason, message string) {
	ps.p.emitter.Emit(api.NewLifecycleEvent(ps.id, ps.reqID, eventType, reason, message))
}

// Resolving implements refs.Observer.
func (ps *pass) Resolving(e refs.Expression) {
	ps.lifecycle(api.LifecycleNormal, api.LifecycleResolving, e.Raw)
}

// Resolved implements refs.Observer.
func (ps *pass) Resolved(e refs.Expression, _ string) {
	ps.lifecycle(api.LifecycleNormal, api.LifecycleResolved, e.Raw)
}

func (ps *pass) notify(ctx context.Context, obj *unstructured.Unstructured, outcome Outcome, details string) {
	if ps.p.notifier == nil {
		return
	}
	m := notify.Message{
		ObjURI:    ps.id.String(),
		Kind:      obj.GetKind(),
		Namespace: ps.id.Namespace,
		Name:      ps.id.Name,
		Outcome:   string(outcome),
		Success:   outcome != Failed,
		Details:   details,
		RequestID: ps.reqID,
		Time:      ps.clock.Start(),
	}
	if err := ps.p.notifier.Send(ctx, m); err != nil {
		logging.Warn("Synth", "Notification for %s failed: %v", ps.id, err)
	}
}

func (ps *pass) notifyFailure(ctx context.Context, err error) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	if current, gerr := ps.p.store.Get(ctx, ps.id); gerr == nil {
		obj = current
	}
	ps.notify(ctx, obj, Failed, kstrings.Summary(err.Error()))
}

// wrapEngine makes sure adapter failures carry the engine identifier.
func wrapEngine(engineName string, err error) error {
	var eerr *api.EngineError
	if errors.As(err, &eerr) {
		return err
	}
	return &api.EngineError{Engine: engineName, Err: err}
}
