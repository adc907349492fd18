package store

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"kblocks/pkg/objuri"
)

// WithTracing wraps a Store so every call is recorded as a span.
func WithTracing(s Store) Store {
	return &tracer{store: s}
}

type tracer struct {
	store Store
}

func (t *tracer) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("kblocks/store").Start(ctx, "kblocks.store."+op, trace.WithAttributes(attrs...))
}

func idAttr(id objuri.Identity) attribute.KeyValue {
	return attribute.String("kblocks.object_uri", id.String())
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *tracer) Get(ctx context.Context, id objuri.Identity) (*unstructured.Unstructured, error) {
	ctx, span := t.start(ctx, "Get", idAttr(id))
	obj, err := t.store.Get(ctx, id)
	finish(span, err)
	return obj, err
}

func (t *tracer) Create(ctx context.Context, id objuri.Identity, obj *unstructured.Unstructured) error {
	ctx, span := t.start(ctx, "Create", idAttr(id))
	err := t.store.Create(ctx, id, obj)
	finish(span, err)
	return err
}

func (t *tracer) MergePatch(ctx context.Context, id objuri.Identity, patch map[string]interface{}) (*unstructured.Unstructured, error) {
	ctx, span := t.start(ctx, "MergePatch", idAttr(id))
	obj, err := t.store.MergePatch(ctx, id, patch)
	finish(span, err)
	return obj, err
}

func (t *tracer) PatchStatus(ctx context.Context, id objuri.Identity, patch map[string]interface{}) error {
	ctx, span := t.start(ctx, "PatchStatus", idAttr(id))
	err := t.store.PatchStatus(ctx, id, patch)
	finish(span, err)
	return err
}

func (t *tracer) Delete(ctx context.Context, id objuri.Identity) error {
	ctx, span := t.start(ctx, "Delete", idAttr(id))
	err := t.store.Delete(ctx, id)
	finish(span, err)
	return err
}

func (t *tracer) List(ctx context.Context, c objuri.Channel) ([]unstructured.Unstructured, error) {
	ctx, span := t.start(ctx, "List", attribute.String("kblocks.resource", c.GroupVersionResource().String()))
	items, err := t.store.List(ctx, c)
	finish(span, err)
	return items, err
}

func (t *tracer) Lookup(ctx context.Context, gr schema.GroupResource, namespace, name string) (*unstructured.Unstructured, error) {
	ctx, span := t.start(ctx, "Lookup",
		attribute.String("kblocks.resource", gr.String()),
		attribute.String("kblocks.namespace", namespace),
		attribute.String("kblocks.name", name),
	)
	obj, err := t.store.Lookup(ctx, gr, namespace, name)
	finish(span, err)
	return obj, err
}
