// Package refs resolves ${ref://...} placeholders in a block's desired state.
//
// A placeholder names another resource's status field. Resolution waits for
// the referenced object to exist and report Ready=True, reads the field, and
// substitutes the value as opaque text everywhere the placeholder occurs.
package refs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"

	"kblocks/internal/api"
	"kblocks/internal/status"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

const (
	// DefaultTimeout is the wait budget of an expression without ?timeout=.
	DefaultTimeout = 5 * time.Minute

	// DefaultPollInterval is how often a referenced object is re-read.
	DefaultPollInterval = 2 * time.Second
)

// Lookuper fetches referenced objects. store.Store satisfies it.
type Lookuper interface {
	Lookup(ctx context.Context, gr schema.GroupResource, namespace, name string) (*unstructured.Unstructured, error)
}

// Observer is notified as each expression is resolved. Calls may arrive
// concurrently from different expressions.
type Observer interface {
	Resolving(expr Expression)
	Resolved(expr Expression, value string)
}

// Resolver resolves references against a store.
type Resolver struct {
	lookup         Lookuper
	defaultTimeout time.Duration
	pollInterval   time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDefaultTimeout sets the wait budget for expressions without ?timeout=.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// WithPollInterval sets how often referenced objects are re-read.
func WithPollInterval(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// NewResolver creates a resolver reading from lookup.
func NewResolver(lookup Lookuper, opts ...Option) *Resolver {
	r := &Resolver{
		lookup:         lookup,
		defaultTimeout: DefaultTimeout,
		pollInterval:   DefaultPollInterval,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns a copy of doc with every reference substituted. doc itself
// is not modified. Expressions are awaited concurrently; if any fails, the
// error of the first failure is returned and nothing is substituted.
func (r *Resolver) Resolve(ctx context.Context, doc *unstructured.Unstructured, obs Observer) (*unstructured.Unstructured, error) {
	exprs := Collect(doc.Object)
	if len(exprs) == 0 {
		return doc.DeepCopy(), nil
	}

	namespace := doc.GetNamespace()
	if namespace == "" {
		namespace = objuri.DefaultNamespace
	}

	values := make([]string, len(exprs))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range exprs {
		g.Go(func() error {
			v, err := r.resolveOne(gctx, namespace, e, obs)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byRaw := make(map[string]string, len(exprs))
	for i, e := range exprs {
		byRaw[e.Raw] = values[i]
	}
	return &unstructured.Unstructured{Object: Substitute(doc.Object, byRaw)}, nil
}

func (r *Resolver) resolveOne(ctx context.Context, namespace string, e Expression, obs Observer) (string, error) {
	ctx, span := otel.Tracer("kblocks/refs").Start(ctx, "kblocks.refs.Resolve", trace.WithAttributes(
		attribute.String("kblocks.ref.resource", e.Resource.String()),
		attribute.String("kblocks.ref.name", e.Name),
		attribute.String("kblocks.ref.field", e.Field),
	))
	defer span.End()

	if obs != nil {
		obs.Resolving(e)
	}

	timeout := e.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}

	obj, err := r.waitReady(ctx, namespace, e, timeout)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	raw, found, err := unstructured.NestedFieldNoCopy(obj.Object, e.FieldPath()...)
	if err != nil || !found {
		if err == nil {
			err = fmt.Errorf("field status.%s not found on %s/%s", e.Field, e.Resource, e.Name)
		}
		span.SetStatus(codes.Error, err.Error())
		return "", &api.ReferenceResolutionError{Expression: e.Raw, Err: err}
	}

	value, err := stringify(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", &api.ReferenceResolutionError{Expression: e.Raw, Err: err}
	}

	if obs != nil {
		obs.Resolved(e, value)
	}
	logging.Debug("Resolver", "Resolved %s", e.Raw)
	return value, nil
}

// waitReady polls until the referenced object exists with Ready=True. Lookup
// failures other than NotFound are retried until the timeout as well.
func (r *Resolver) waitReady(ctx context.Context, namespace string, e Expression, timeout time.Duration) (*unstructured.Unstructured, error) {
	var (
		obj     *unstructured.Unstructured
		lastErr error
	)
	err := wait.PollUntilContextTimeout(ctx, r.pollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		o, err := r.lookup.Lookup(ctx, e.Resource, namespace, e.Name)
		if err != nil {
			if !apierrors.IsNotFound(err) {
				lastErr = err
				logging.Debug("Resolver", "Lookup of %s/%s failed: %v", e.Resource, e.Name, err)
			}
			return false, nil
		}
		st, _, _ := unstructured.NestedMap(o.Object, "status")
		if !status.IsReady(st) {
			return false, nil
		}
		obj = o
		return true, nil
	})
	if err == nil {
		return obj, nil
	}
	if wait.Interrupted(err) {
		if lastErr != nil && ctx.Err() == nil {
			return nil, &api.ReferenceResolutionError{Expression: e.Raw, Err: lastErr}
		}
		return nil, &api.ReferenceTimeout{Expression: e.Raw, Timeout: timeout}
	}
	return nil, &api.ReferenceResolutionError{Expression: e.Raw, Err: err}
}

// stringify renders a status value as substitution text.
func stringify(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}
