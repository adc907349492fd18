package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"

	"kblocks/internal/config"
	"kblocks/internal/control"
	"kblocks/internal/metrics"
	"kblocks/internal/watch"
	"kblocks/internal/worker"
	"kblocks/pkg/logging"
)

// WorkerOptions configures RunWorker.
type WorkerOptions struct {
	// Partitions to drain. Empty means all of them.
	Partitions []int

	// Owner identifies this process in partition leases.
	Owner string

	// WithControl also runs the control channel in this process.
	WithControl bool

	// WithWatch also runs the configured watch source in this process.
	WithWatch bool
}

// NewOwnerID returns a lease owner id unique to this process.
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kblocks"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// RunWorker runs one worker loop per partition until ctx is cancelled or a
// loop fails. Each loop finishes its in-flight event before returning.
func RunWorker(ctx context.Context, s *Services, opts WorkerOptions) error {
	if s.Pipeline == nil {
		return errors.New("worker requires services initialized in worker mode")
	}
	if opts.Owner == "" {
		opts.Owner = NewOwnerID()
	}
	partitions := opts.Partitions
	if len(partitions) == 0 {
		for p := 0; p < s.Router.Partitions(); p++ {
			partitions = append(partitions, p)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range partitions {
		loop, err := worker.NewLoop(worker.Options{
			Partition:    p,
			Owner:        opts.Owner,
			Channel:      s.Channel,
			Queue:        s.Queue,
			Pipeline:     s.Pipeline,
			Emitter:      s.Emitter,
			PollInterval: s.Config.Queue.PollInterval,
			LeaseTTL:     s.Config.Queue.LeaseTTL,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}

	if addr := s.Config.Metrics.Address; addr != "" {
		serveMetrics(gctx, g, addr)
	}
	if opts.WithControl {
		g.Go(func() error {
			return runControl(gctx, s)
		})
	}
	if opts.WithWatch {
		g.Go(func() error {
			return runWatch(gctx, s)
		})
	}

	logging.Info("Worker", "Worker %s draining partitions %v", opts.Owner, partitions)
	notifySystemd(daemon.SdNotifyReady)
	err := g.Wait()
	notifySystemd(daemon.SdNotifyStopping)
	return err
}

// RunControl keeps the control channel connected until ctx is cancelled.
func RunControl(ctx context.Context, s *Services) error {
	notifySystemd(daemon.SdNotifyReady)
	defer notifySystemd(daemon.SdNotifyStopping)
	return runControl(ctx, s)
}

func runControl(ctx context.Context, s *Services) error {
	if s.Config.Control.URL == "" {
		return errors.New("control.url is not configured")
	}
	c, err := control.New(control.Options{
		URL:          s.Config.Control.URL,
		Channel:      s.Channel,
		Store:        s.Store,
		Emitter:      s.Emitter,
		Dispatcher:   s.Router,
		DialTimeout:  s.Config.Control.DialTimeout,
		PingInterval: s.Config.Control.PingInterval,
		MaxBackoff:   s.Config.Control.MaxBackoff,
	})
	if err != nil {
		return err
	}
	logging.Info("ControlChannel", "Connecting to %s", c.URL())
	return c.Run(ctx)
}

// RunWatch feeds the configured watch source into the router until ctx is
// cancelled.
func RunWatch(ctx context.Context, s *Services) error {
	notifySystemd(daemon.SdNotifyReady)
	defer notifySystemd(daemon.SdNotifyStopping)
	return runWatch(ctx, s)
}

func runWatch(ctx context.Context, s *Services) error {
	d, err := NewDetector(s)
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s watch: %w", d.Source(), err)
	}
	<-ctx.Done()
	return d.Stop()
}

// NewDetector builds the watch source selected by watch.source.
func NewDetector(s *Services) (watch.Detector, error) {
	cfg := s.Config
	switch cfg.Watch.Source {
	case config.WatchSourceFilesystem:
		return watch.NewFilesystemDetector(cfg.Watch.Inbox, cfg.Watch.Debounce, s.Router), nil
	case config.WatchSourceKubernetes:
		if s.RestConfig == nil {
			restConfig, err := ctrl.GetConfig()
			if err != nil {
				return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
			}
			s.RestConfig = restConfig
		}
		d, err := watch.NewKubernetesDetector(watch.KubernetesOptions{
			RestConfig:   s.RestConfig,
			Channel:      s.Channel,
			Kind:         cfg.Block.Kind,
			Namespace:    cfg.Block.Namespace,
			ResyncPeriod: cfg.Watch.ResyncPeriod,
			Dispatcher:   s.Router,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown watch source %q", cfg.Watch.Source)
	}
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logging.Info("Metrics", "Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func notifySystemd(state string) {
	if sent, err := daemon.SdNotify(false, state); err != nil {
		logging.Debug("Bootstrap", "sd_notify %s failed: %v", state, err)
	} else if sent {
		logging.Debug("Bootstrap", "Sent sd_notify %s", state)
	}
}
