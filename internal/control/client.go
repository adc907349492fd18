// Package control keeps the bidirectional channel to the control plane.
//
// One websocket is held per (group, version, plural, system). After every
// (re)connect the client first reports each existing object of the channel as
// an OBJECT/SYNC event, then reads commands: APPLY, PATCH and DELETE mutate
// the store, REFRESH re-reports an object, and READ enqueues a Read change
// event for the worker that owns the object. A malformed command is reported
// as an ERROR event and only that command is rejected.
package control

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"kblocks/internal/api"
	"kblocks/internal/events"
	"kblocks/internal/metrics"
	"kblocks/internal/retry"
	"kblocks/internal/store"
	"kblocks/pkg/logging"
	"kblocks/pkg/objuri"
)

// Defaults applied by New.
const (
	DefaultDialTimeout  = 4 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultMaxBackoff   = 30 * time.Second
)

// Dispatcher routes change events to partitions. partition.Router satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev api.ChangeEvent) (int, error)
}

// Options configures a Client.
type Options struct {
	// URL is the control plane base URL (ws, wss, http or https).
	URL     string
	Channel objuri.Channel

	Store      store.Store
	Emitter    events.Emitter
	Dispatcher Dispatcher

	DialTimeout  time.Duration
	PingInterval time.Duration

	// PongWait is how long the connection may stay silent after a ping.
	// Defaults to twice PingInterval.
	PongWait time.Duration

	// MaxBackoff caps the reconnect delay.
	MaxBackoff time.Duration

	// Sleep overrides the wait between reconnects.
	Sleep retry.SleepFunc
}

// Client is the control channel of one block.
type Client struct {
	opts   Options
	url    string
	dialer *websocket.Dialer
}

// New validates opts and creates a client.
func New(opts Options) (*Client, error) {
	if opts.Store == nil || opts.Emitter == nil || opts.Dispatcher == nil {
		return nil, fmt.Errorf("control channel requires a store, emitter and dispatcher")
	}
	u, err := ChannelURL(opts.URL, opts.Channel)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 2 * opts.PingInterval
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	return &Client{
		opts: opts,
		url:  u,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.DialTimeout,
		},
	}, nil
}

// ChannelURL returns <base>/<group>/<version>/<plural>?system=<system> with
// an http(s) base rewritten to ws(s).
func ChannelURL(base string, c objuri.Channel) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid control URL %q: %w", base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid control URL %q: unsupported scheme %q", base, u.Scheme)
	}
	u.Path = strings.Join([]string{u.Path, c.Group, c.Version, c.Plural}, "/")
	u.RawQuery = url.Values{"system": []string{c.System}}.Encode()
	return u.String(), nil
}

// URL returns the websocket URL of the channel.
func (c *Client) URL() string {
	return c.url
}

// Run keeps the channel connected until ctx is cancelled. Reconnects are
// unbounded with capped exponential backoff; a session that got connected
// resets the backoff.
func (c *Client) Run(ctx context.Context) error {
	policy := retry.ReconnectPolicy(c.opts.MaxBackoff)
	sleep := c.opts.Sleep
	if sleep == nil {
		sleep = retry.Sleep
	}
	b := policy.Backoff()

	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			b.Reset()
		}

		delay := b.NextBackOff()
		logging.Warn("ControlChannel", "Disconnected from %s: %v (reconnecting in %s)", c.url, err, delay)
		metrics.ControlReconnectsTotal.Inc()
		if err := sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()
	logging.Info("ControlChannel", "Connected to %s", c.url)

	if err := c.flush(ctx); err != nil {
		return true, fmt.Errorf("flush failed: %w", err)
	}

	sessCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		<-sessCtx.Done()
		// unblocks ReadMessage
		conn.Close()
	}()
	go c.ping(sessCtx, conn)

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		c.handle(ctx, data)
	}
}

func (c *Client) ping(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.DialTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logging.Debug("ControlChannel", "Ping failed: %v", err)
				return
			}
		}
	}
}

// flush reports every existing object of the channel once.
func (c *Client) flush(ctx context.Context) error {
	objs, err := c.opts.Store.List(ctx, c.opts.Channel)
	if err != nil {
		return err
	}
	for i := range objs {
		obj := &objs[i]
		c.opts.Emitter.Emit(api.NewObjectEvent(objuri.FromObject(c.opts.Channel, obj), "", obj.Object, api.ReasonSync))
	}
	logging.Debug("ControlChannel", "Flushed %d objects", len(objs))
	return nil
}

// handle executes one command. Failures are reported, never returned, so a
// bad command cannot take the channel down.
func (c *Client) handle(ctx context.Context, data []byte) {
	cmd, id, err := ParseCommand(c.opts.Channel, data)
	if err == nil {
		err = c.execute(ctx, cmd, id)
	}

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		if id == (objuri.Identity{}) {
			id = c.opts.Channel.Identity("", "")
		}
		logging.Error("ControlChannel", err, "Command %s for %s failed", cmd.Type, id)
		c.opts.Emitter.Emit(api.NewErrorEvent(id, "", err, ""))
	}
	metrics.ControlCommandsTotal.WithLabelValues(commandLabel(cmd.Type), result).Inc()
}

func commandLabel(t CommandType) string {
	switch t {
	case CommandApply, CommandPatch, CommandDelete, CommandRefresh, CommandRead:
		return string(t)
	default:
		return "INVALID"
	}
}

func (c *Client) execute(ctx context.Context, cmd Command, id objuri.Identity) error {
	logging.Debug("ControlChannel", "%s %s", cmd.Type, id)

	switch cmd.Type {
	case CommandApply:
		return c.apply(ctx, id, &unstructured.Unstructured{Object: cmd.Object})

	case CommandPatch:
		obj, err := c.opts.Store.MergePatch(ctx, id, cmd.Patch)
		if err != nil {
			return err
		}
		c.opts.Emitter.Emit(api.NewObjectEvent(id, "", obj.Object, api.ReasonUpdate))
		return nil

	case CommandDelete:
		err := c.opts.Store.Delete(ctx, id)
		if err != nil && !apierrors.IsNotFound(err) {
			return err
		}
		c.opts.Emitter.Emit(api.NewObjectEvent(id, "", nil, api.ReasonDelete))
		return nil

	case CommandRefresh:
		obj, err := c.opts.Store.Get(ctx, id)
		if apierrors.IsNotFound(err) {
			c.opts.Emitter.Emit(api.NewObjectEvent(id, "", nil, api.ReasonSync))
			return nil
		}
		if err != nil {
			return err
		}
		c.opts.Emitter.Emit(api.NewObjectEvent(id, "", obj.Object, api.ReasonSync))
		return nil

	case CommandRead:
		_, err := c.opts.Dispatcher.Dispatch(ctx, api.ChangeEvent{
			WatchKind: api.WatchRead,
			Object:    stub(id),
			RequestID: uuid.NewString(),
		})
		return err
	}
	return errors.New("unreachable")
}

// apply creates the object or merge-patches its desired state.
func (c *Client) apply(ctx context.Context, id objuri.Identity, obj *unstructured.Unstructured) error {
	_, err := c.opts.Store.Get(ctx, id)
	switch {
	case apierrors.IsNotFound(err):
		if err := c.opts.Store.Create(ctx, id, obj); err != nil {
			return err
		}
		created, err := c.opts.Store.Get(ctx, id)
		if err != nil {
			return err
		}
		c.opts.Emitter.Emit(api.NewObjectEvent(id, "", created.Object, api.ReasonCreate))
		return nil
	case err != nil:
		return err
	}

	updated, err := c.opts.Store.MergePatch(ctx, id, desiredPatch(obj))
	if err != nil {
		return err
	}
	c.opts.Emitter.Emit(api.NewObjectEvent(id, "", updated.Object, api.ReasonUpdate))
	return nil
}

// desiredPatch drops status and server-owned metadata from an applied
// object so it can be sent as a merge patch.
func desiredPatch(obj *unstructured.Unstructured) map[string]interface{} {
	patch := obj.DeepCopy().Object
	delete(patch, "status")
	if md, ok := patch["metadata"].(map[string]interface{}); ok {
		kept := map[string]interface{}{}
		for _, k := range []string{"labels", "annotations"} {
			if v, ok := md[k]; ok {
				kept[k] = v
			}
		}
		patch["metadata"] = kept
	}
	return patch
}

// stub is the minimal object a Read change event needs for routing; the
// pipeline reads the current document from the store.
func stub(id objuri.Identity) *unstructured.Unstructured {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{}}
	obj.SetAPIVersion(id.GroupVersionResource().GroupVersion().String())
	obj.SetNamespace(id.Namespace)
	obj.SetName(id.Name)
	return obj
}
