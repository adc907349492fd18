// Package engine connects the pipeline to provisioning backends.
//
// An Adapter turns a resolved block document into real infrastructure and
// returns the outputs to publish in the block's status. Adapters are looked up
// in a Registry by the first path segment of the block's engine string, so
// "wing/k8s" and "wing/tf-aws" both resolve to the "wing" adapter.
package engine

import (
	"context"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Adapter provisions or tears down the resources described by a block.
type Adapter interface {
	// Apply converges the backend to doc, or tears it down when isDelete is
	// set. The returned outputs are merged into the block's status.
	Apply(ctx context.Context, doc *unstructured.Unstructured, isDelete bool) (map[string]interface{}, error)
}

// Reader is implemented by adapters that can report current outputs without
// changing anything.
type Reader interface {
	Read(ctx context.Context, doc *unstructured.Unstructured) (map[string]interface{}, error)
}

// Key returns the registry key of an engine string.
func Key(engine string) string {
	key, _, _ := strings.Cut(strings.TrimSpace(engine), "/")
	return key
}

// LogSink receives output lines of an engine run with their level.
type LogSink func(level, line string)

type logSinkKey struct{}

// WithLogSink attaches sink to ctx. Adapters forward the output of the
// backend through it.
func WithLogSink(ctx context.Context, sink LogSink) context.Context {
	return context.WithValue(ctx, logSinkKey{}, sink)
}

// LogSinkFrom returns the sink attached to ctx, or one that drops lines.
func LogSinkFrom(ctx context.Context) LogSink {
	if sink, ok := ctx.Value(logSinkKey{}).(LogSink); ok && sink != nil {
		return sink
	}
	return func(string, string) {}
}
