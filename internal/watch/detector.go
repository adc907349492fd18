package watch

import (
	"context"

	"kblocks/internal/api"
	"kblocks/internal/retry"
)

// Dispatcher routes change events to partitions. partition.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev api.ChangeEvent) (int, error)
}

// Detector is a long-running source of change events.
type Detector interface {
	// Start begins watching. It returns once the detector is ready.
	Start(ctx context.Context) error
	Stop() error
	Source() string
}

// Detector sources.
const (
	SourceKubernetes = "Kubernetes"
	SourceFilesystem = "Filesystem"
)

// dispatchWithRetry routes ev, retrying routing failures with p.
func dispatchWithRetry(ctx context.Context, d Dispatcher, p retry.Policy, ev api.ChangeEvent) error {
	_, err := retry.Do(ctx, p, func(ctx context.Context, _ int) error {
		_, err := d.Dispatch(ctx, ev)
		return err
	})
	return err
}
