package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"kblocks/internal/api"
	"kblocks/internal/metrics"
	"kblocks/internal/retry"
	"kblocks/pkg/logging"
)

// Emitter accepts events for delivery.
type Emitter interface {
	// Emit schedules e for delivery. It never blocks on the sink.
	Emit(e api.Event)

	// Close waits for in-flight deliveries or until ctx is done.
	Close(ctx context.Context) error
}

// Client posts events to an HTTP sink.
type Client struct {
	url        string
	httpClient *http.Client
	policy     retry.Policy

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPolicy overrides the delivery retry policy.
func WithPolicy(p retry.Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a client posting to url.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		policy:     retry.DeliveryPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Emit implements Emitter. Events emitted after Close are dropped.
func (c *Client) Emit(e api.Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logging.Warn("EventClient", "Dropping %s event for %s: client closed", e.Type, e.ObjURI)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.deliver(e)
	}()
}

// Close implements Emitter.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for event deliveries: %w", ctx.Err())
	}
}

func (c *Client) deliver(e api.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		logging.Error("EventClient", err, "Failed to encode %s event for %s", e.Type, e.ObjURI)
		metrics.EventDeliveriesTotal.WithLabelValues(string(e.Type), metrics.ResultDropped).Inc()
		return
	}

	attempts, err := retry.Do(context.Background(), c.policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			logging.Debug("EventClient", "Retrying %s event for %s (attempt %d)", e.Type, e.ObjURI, attempt)
		}
		return c.post(ctx, body)
	})
	if err != nil {
		derr := &api.DeliveryError{URL: c.url, Attempts: attempts, Err: err}
		logging.Error("EventClient", derr, "Dropping %s event for %s", e.Type, e.ObjURI)
		metrics.EventDeliveriesTotal.WithLabelValues(string(e.Type), metrics.ResultDropped).Inc()
		return
	}
	metrics.EventDeliveriesTotal.WithLabelValues(string(e.Type), metrics.ResultDelivered).Inc()
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("event sink returned %s", resp.Status)
	}
	return nil
}
