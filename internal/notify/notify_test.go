package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier_Render(t *testing.T) {
	w, err := NewWebhookNotifier("http://unused", "")
	require.NoError(t, err)

	text, err := w.Render(Message{Kind: "Queue", Namespace: "default", Name: "orders", Outcome: "Succeeded", Success: true})
	require.NoError(t, err)
	assert.Equal(t, "[ok] Queue default/orders succeeded", text)

	text, err = w.Render(Message{
		Kind: "Queue", Namespace: "default", Name: "orders", Outcome: "Failed",
		Details: strings.Repeat("x", 400),
	})
	require.NoError(t, err)
	assert.Equal(t, "[failed] Queue default/orders failed: "+strings.Repeat("x", 300), text)
}

func TestWebhookNotifier_InvalidTemplate(t *testing.T) {
	_, err := NewWebhookNotifier("http://unused", "{{ .Kind ")
	assert.Error(t, err)
}

func TestWebhookNotifier_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	w, err := NewWebhookNotifier(srv.URL, `{{ .Name | upper }}`)
	require.NoError(t, err)
	require.NoError(t, w.Send(context.Background(), Message{Name: "orders"}))

	assert.Equal(t, map[string]string{"text": "ORDERS"}, got)
}

func TestWebhookNotifier_SendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w, err := NewWebhookNotifier(srv.URL, "")
	require.NoError(t, err)
	w.policy.Sleep = func(context.Context, time.Duration) error { return nil }

	err = w.Send(context.Background(), Message{ObjURI: "kblocks://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
