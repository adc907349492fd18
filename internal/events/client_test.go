package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kblocks/internal/api"
	"kblocks/internal/retry"
	"kblocks/pkg/objuri"
)

var testID = objuri.Identity{
	Group: "acme.com", Version: "v1", Plural: "queues", System: "test",
	Namespace: "default", Name: "orders",
}

func noSleep(context.Context, time.Duration) error { return nil }

func fastPolicy() retry.Policy {
	p := retry.DeliveryPolicy()
	p.Sleep = noSleep
	return p
}

type sink struct {
	mu       sync.Mutex
	bodies   []map[string]interface{}
	requests atomic.Int32
	failures int32
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := s.requests.Add(1)
	if n <= s.failures {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	data, _ := io.ReadAll(r.Body)
	var body map[string]interface{}
	_ = json.Unmarshal(data, &body)

	s.mu.Lock()
	s.bodies = append(s.bodies, body)
	s.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func TestClient_DeliversEnvelope(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	c.Emit(api.NewObjectEvent(testID, "req-1", nil, api.ReasonSync))
	require.NoError(t, c.Close(context.Background()))

	require.Len(t, s.bodies, 1)
	body := s.bodies[0]
	assert.Equal(t, "OBJECT", body["type"])
	assert.Equal(t, testID.String(), body["objUri"])
	assert.Equal(t, "req-1", body["requestId"])
	assert.Equal(t, map[string]interface{}{}, body["object"])
	assert.Equal(t, "SYNC", body["reason"])
}

func TestClient_RetriesUntilSuccess(t *testing.T) {
	s := &sink{failures: 2}
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	c.Emit(api.NewLogEvent(testID, "", api.LogLevelInfo, "hello"))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, int32(3), s.requests.Load())
	assert.Len(t, s.bodies, 1)
}

func TestClient_GivesUpAfterFiveAttempts(t *testing.T) {
	s := &sink{failures: 100}
	srv := httptest.NewServer(s)
	defer srv.Close()

	var waits []time.Duration
	var mu sync.Mutex
	p := retry.DeliveryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}

	c := NewClient(srv.URL, WithPolicy(p))
	c.Emit(api.NewLogEvent(testID, "", api.LogLevelInfo, "lost"))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, int32(5), s.requests.Load())
	assert.Equal(t, []time.Duration{
		250 * time.Millisecond,
		375 * time.Millisecond,
		562500 * time.Microsecond,
		843750 * time.Microsecond,
	}, waits)
}

func TestClient_NetworkErrorDoesNotReachCaller(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, WithPolicy(fastPolicy()))
	c.Emit(api.NewLogEvent(testID, "", api.LogLevelInfo, "nobody home"))
	assert.NoError(t, c.Close(context.Background()))
}

func TestClient_EmitAfterCloseIsDropped(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	require.NoError(t, c.Close(context.Background()))
	c.Emit(api.NewLogEvent(testID, "", api.LogLevelInfo, "late"))

	assert.Equal(t, int32(0), s.requests.Load())
}

func TestClient_CloseHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithPolicy(fastPolicy()))
	c.Emit(api.NewLogEvent(testID, "", api.LogLevelInfo, "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Close(ctx))
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Emit(api.NewLogEvent(testID, "", api.LogLevelInfo, "a"))
	r.Emit(api.NewPatchEvent(testID, "", map[string]interface{}{"x": "y"}))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(api.EventPatch), 1)

	r.Reset()
	assert.Empty(t, r.Events())
}
