package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/client-go/rest"
	ctrl "sigs.k8s.io/controller-runtime"

	"kblocks/internal/config"
	"kblocks/internal/engine"
	"kblocks/internal/events"
	"kblocks/internal/notify"
	"kblocks/internal/partition"
	"kblocks/internal/refs"
	"kblocks/internal/retry"
	"kblocks/internal/store"
	"kblocks/internal/synth"
	"kblocks/internal/tracing"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// Mode selects which components InitializeServices builds. Each mode
// includes everything the previous one builds.
type Mode int

const (
	// ModeQueue builds the queue and the router.
	ModeQueue Mode = iota

	// ModeControl adds the store and the event emitter.
	ModeControl

	// ModeWorker adds the engine registry, resolver, notifier and pipeline.
	ModeWorker
)

// closeTimeout bounds the wait for in-flight event deliveries on Close.
const closeTimeout = 10 * time.Second

// Options tune InitializeServices.
type Options struct {
	Mode Mode

	// Store replaces the Kubernetes store.
	Store store.Store

	// RestConfig is used instead of the ambient kubeconfig.
	RestConfig *rest.Config
}

// Services holds the wired components of a runtime.
type Services struct {
	Config  config.Config
	Channel objuri.Channel

	Queue  partition.Queue
	Router *partition.Router

	// Set from ModeControl.
	Store      store.Store
	Emitter    events.Emitter
	RestConfig *rest.Config

	// Set in ModeWorker.
	Registry *engine.Registry
	Resolver *refs.Resolver
	Notifier notify.Notifier
	Pipeline *synth.Pipeline

	shutdownTracing tracing.ShutdownFunc
}

// InitializeServices builds the components for mode. On failure everything
// already opened is closed.
func InitializeServices(ctx context.Context, cfg config.Config, opts Options) (s *Services, err error) {
	s = &Services{Config: cfg, Channel: cfg.Block.Channel(), RestConfig: opts.RestConfig}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				logging.Warn("Bootstrap", "Cleanup after failed initialization: %v", cerr)
			}
			s = nil
		}
	}()

	if s.Queue, err = OpenQueue(cfg.Queue); err != nil {
		return s, err
	}
	if s.Router, err = partition.NewRouter(s.Channel, s.Queue, cfg.Block.Workers); err != nil {
		return s, err
	}
	if opts.Mode < ModeControl {
		return s, nil
	}

	shutdown, err := tracing.Configure(ctx, tracing.Options{
		Enabled:  cfg.Tracing.Enabled,
		Endpoint: cfg.Tracing.Endpoint,
		System:   cfg.Block.System,
	})
	if err != nil {
		return s, err
	}
	s.shutdownTracing = shutdown

	var recorder events.ObjectEventRecorder
	s.Store = opts.Store
	if s.Store == nil {
		var k *store.KubernetesStore
		if k, err = s.kubernetesStore(); err != nil {
			return s, err
		}
		s.Store, recorder = store.WithTracing(k), k
	} else if r, ok := s.Store.(events.ObjectEventRecorder); ok {
		recorder = r
	}
	s.Emitter = NewEmitter(cfg.Events)
	if cfg.Events.KubernetesEvents && recorder != nil {
		s.Emitter = events.NewLifecycleMirror(s.Emitter, recorder)
	}
	if opts.Mode < ModeWorker {
		return s, nil
	}

	if s.Registry, err = NewRegistry(cfg.Engines); err != nil {
		return s, err
	}
	s.Resolver = refs.NewResolver(s.Store,
		refs.WithDefaultTimeout(cfg.References.DefaultTimeout),
		refs.WithPollInterval(cfg.References.PollInterval),
	)
	if s.Notifier, err = NewNotifier(cfg.Notifications); err != nil {
		return s, err
	}
	s.Pipeline, err = synth.New(synth.Options{
		Channel:  s.Channel,
		Engine:   cfg.Block.Engine,
		Store:    s.Store,
		Resolver: s.Resolver,
		Registry: s.Registry,
		Emitter:  s.Emitter,
		Notifier: s.Notifier,
	})
	if err != nil {
		return s, err
	}

	logging.Info("Bootstrap", "Initialized %s/%s (%s) with engine %s and %d partitions",
		cfg.Block.Group, cfg.Block.Plural, cfg.Block.System, cfg.Block.Engine, cfg.Block.Workers)
	return s, nil
}

func (s *Services) kubernetesStore() (*store.KubernetesStore, error) {
	if s.RestConfig == nil {
		restConfig, err := ctrl.GetConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
		}
		s.RestConfig = restConfig
	}
	return store.NewKubernetesStore(s.RestConfig, s.Config.Block.Namespace)
}

// Close flushes pending event deliveries and releases the queue and the
// tracer provider.
func (s *Services) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if s.Emitter != nil {
		errs = append(errs, s.Emitter.Close(ctx))
	}
	if s.Queue != nil {
		errs = append(errs, s.Queue.Close())
	}
	if s.shutdownTracing != nil {
		errs = append(errs, s.shutdownTracing(ctx))
	}
	return errors.Join(errs...)
}

// OpenQueue opens the SQLite queue at cfg.Path, or an in-memory queue when
// no path is configured.
func OpenQueue(cfg config.QueueConfig) (partition.Queue, error) {
	if cfg.Path == "" {
		logging.Warn("Bootstrap", "No queue path configured, using an in-memory queue")
		return partition.NewMemoryQueue(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	q, err := partition.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewEmitter returns the event sink client, or a log emitter when no sink
// is configured.
func NewEmitter(cfg config.EventsConfig) events.Emitter {
	if cfg.URL == "" {
		logging.Info("Bootstrap", "No event sink configured, events are logged")
		return events.LogEmitter{}
	}
	return events.NewClient(cfg.URL, events.WithPolicy(retry.Policy{
		Attempts:     cfg.Attempts,
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
	}))
}

// NewRegistry registers a command adapter for every configured engine.
func NewRegistry(engines map[string]config.EngineConfig) (*engine.Registry, error) {
	r := engine.NewRegistry()
	for key, e := range engines {
		err := r.Register(key, &engine.CommandAdapter{
			Name:    key,
			Command: e.Command,
			Args:    e.Args,
			Env:     e.Env,
			Dir:     e.Dir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register engine %s: %w", key, err)
		}
	}
	return r, nil
}

// NewNotifier returns the webhook notifier, or a log notifier when no
// webhook is configured.
func NewNotifier(cfg config.NotificationsConfig) (notify.Notifier, error) {
	if cfg.WebhookURL == "" {
		return notify.LogNotifier{}, nil
	}
	n, err := notify.NewWebhookNotifier(cfg.WebhookURL, cfg.Template)
	if err != nil {
		return nil, err
	}
	return n, nil
}
