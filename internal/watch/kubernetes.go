package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"

	"kblocks/internal/api"
	"kblocks/internal/retry"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// KubernetesOptions configures a KubernetesDetector.
type KubernetesOptions struct {
	RestConfig *rest.Config
	Channel    objuri.Channel

	// Kind of the watched resource, e.g. "Queue".
	Kind string

	// Namespace restricts the watch. Empty watches all namespaces.
	Namespace string

	// ResyncPeriod makes the informer replay every object as a Sync event.
	// Zero uses the controller-runtime default.
	ResyncPeriod time.Duration

	Dispatcher Dispatcher
}

// KubernetesDetector watches the block's resource with an unstructured
// informer and dispatches a change event for every add, update and delete.
type KubernetesDetector struct {
	mu sync.RWMutex

	opts   KubernetesOptions
	policy retry.Policy

	cache      cache.Cache
	ctx        context.Context
	cancelFunc context.CancelFunc
	running    bool

	registration toolscache.ResourceEventHandlerRegistration
}

// NewKubernetesDetector creates a detector. Nothing is contacted until Start.
func NewKubernetesDetector(opts KubernetesOptions) (*KubernetesDetector, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("kubernetes detector requires a dispatcher")
	}
	if opts.Kind == "" {
		return nil, fmt.Errorf("kubernetes detector requires the resource kind")
	}
	return &KubernetesDetector{
		opts:   opts,
		policy: retry.DeliveryPolicy(),
	}, nil
}

func (d *KubernetesDetector) prototype() *unstructured.Unstructured {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(d.opts.Channel.GroupVersionResource().GroupVersion().WithKind(d.opts.Kind))
	return obj
}

// Start builds the informer cache, registers the handlers and waits for the
// initial list to sync. Objects present at startup arrive as Added events.
func (d *KubernetesDetector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.ctx, d.cancelFunc = context.WithCancel(ctx)
	d.running = true
	d.mu.Unlock()

	cacheOpts := cache.Options{Scheme: runtime.NewScheme()}
	if d.opts.Namespace != "" {
		cacheOpts.DefaultNamespaces = map[string]cache.Config{d.opts.Namespace: {}}
	}
	if d.opts.ResyncPeriod > 0 {
		cacheOpts.SyncPeriod = &d.opts.ResyncPeriod
	}

	c, err := cache.New(d.opts.RestConfig, cacheOpts)
	if err != nil {
		d.fail()
		return fmt.Errorf("failed to create cache: %w", err)
	}

	informer, err := c.GetInformer(d.ctx, d.prototype())
	if err != nil {
		d.fail()
		return fmt.Errorf("failed to get informer for %s: %w", d.opts.Kind, err)
	}
	registration, err := informer.AddEventHandler(d.handler())
	if err != nil {
		d.fail()
		return fmt.Errorf("failed to add event handler for %s: %w", d.opts.Kind, err)
	}

	d.mu.Lock()
	d.cache = c
	d.registration = registration
	d.mu.Unlock()

	go func() {
		if err := c.Start(d.ctx); err != nil {
			logging.Error("KubernetesDetector", err, "Cache stopped with error")
		}
	}()

	if !c.WaitForCacheSync(d.ctx) {
		d.fail()
		return fmt.Errorf("failed to sync cache")
	}

	logging.Info("KubernetesDetector", "Watching %s in %s", d.opts.Channel.GroupVersionResource(), d.namespaceDisplay())
	return nil
}

func (d *KubernetesDetector) fail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
}

func (d *KubernetesDetector) handler() toolscache.ResourceEventHandler {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			d.handle(api.WatchAdded, obj)
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			d.handle(updateKind(oldObj, newObj), newObj)
		},
		DeleteFunc: func(obj interface{}) {
			if deleted, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
				obj = deleted.Obj
			}
			d.handle(api.WatchDeleted, obj)
		},
	}
}

// updateKind tells a periodic resync, where the resource version is
// unchanged, from a real modification.
func updateKind(oldObj, newObj interface{}) api.WatchKind {
	o, ok1 := oldObj.(*unstructured.Unstructured)
	n, ok2 := newObj.(*unstructured.Unstructured)
	if ok1 && ok2 && o.GetResourceVersion() != "" && o.GetResourceVersion() == n.GetResourceVersion() {
		return api.WatchSync
	}
	return api.WatchModified
}

func (d *KubernetesDetector) handle(kind api.WatchKind, obj interface{}) {
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		logging.Warn("KubernetesDetector", "Ignoring %s event for unexpected object type %T", kind, obj)
		return
	}

	d.mu.RLock()
	ctx, running := d.ctx, d.running
	d.mu.RUnlock()
	if !running {
		return
	}

	ev := api.ChangeEvent{WatchKind: kind, Object: u.DeepCopy(), RequestID: uuid.NewString()}
	if err := dispatchWithRetry(ctx, d.opts.Dispatcher, d.policy, ev); err != nil {
		logging.Error("KubernetesDetector", err, "Dropping %s event for %s/%s", kind, u.GetNamespace(), u.GetName())
		return
	}
	logging.Debug("KubernetesDetector", "Dispatched %s %s/%s", kind, u.GetNamespace(), u.GetName())
}

// Stop cancels the informer cache.
func (d *KubernetesDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	if d.cancelFunc != nil {
		d.cancelFunc()
	}
	d.registration = nil

	logging.Info("KubernetesDetector", "Stopped Kubernetes detector")
	return nil
}

// Source implements Detector.
func (d *KubernetesDetector) Source() string {
	return SourceKubernetes
}

func (d *KubernetesDetector) namespaceDisplay() string {
	if d.opts.Namespace == "" {
		return "all namespaces"
	}
	return "namespace " + d.opts.Namespace
}
