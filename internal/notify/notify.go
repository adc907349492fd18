// Package notify sends human-readable reconciliation notices to a chat or
// webhook sink. Delivery failures are logged and never affect reconciliation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"kblocks/internal/retry"
	"kblocks/pkg/logging"
)

// DefaultTemplate renders a one-line notice.
const DefaultTemplate = `{{ if .Success }}[ok]{{ else }}[failed]{{ end }} {{ .Kind }} {{ .Namespace }}/{{ .Name }} {{ .Outcome | lower }}{{ with .Details }}: {{ . | trunc 300 }}{{ end }}`

// Message describes the end of a reconciliation.
type Message struct {
	ObjURI    string
	Kind      string
	Namespace string
	Name      string
	Outcome   string
	Success   bool
	Details   string
	RequestID string
	Time      time.Time
}

// Notifier delivers messages.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the process log.
type LogNotifier struct{}

// Send implements Notifier.
func (LogNotifier) Send(_ context.Context, m Message) error {
	if m.Success {
		logging.Info("Notify", "%s %s/%s %s", m.Kind, m.Namespace, m.Name, m.Outcome)
	} else {
		logging.Warn("Notify", "%s %s/%s %s: %s", m.Kind, m.Namespace, m.Name, m.Outcome, m.Details)
	}
	return nil
}

// WebhookNotifier posts {"text": <rendered template>} to a URL, the payload
// accepted by Slack-compatible incoming webhooks.
type WebhookNotifier struct {
	url    string
	tmpl   *template.Template
	client *http.Client
	policy retry.Policy
}

// NewWebhookNotifier parses tmpl (DefaultTemplate when empty) with the sprig
// function map.
func NewWebhookNotifier(url, tmpl string) (*WebhookNotifier, error) {
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	t, err := template.New("notification").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notification template: %w", err)
	}
	return &WebhookNotifier{
		url:    url,
		tmpl:   t,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: retry.Policy{Attempts: 3, InitialDelay: 500 * time.Millisecond, Multiplier: 2},
	}, nil
}

// Render returns the text that Send would post.
func (w *WebhookNotifier) Render(m Message) (string, error) {
	var buf bytes.Buffer
	if err := w.tmpl.Execute(&buf, m); err != nil {
		return "", fmt.Errorf("failed to render notification: %w", err)
	}
	return buf.String(), nil
}

// Send implements Notifier.
func (w *WebhookNotifier) Send(ctx context.Context, m Message) error {
	text, err := w.Render(m)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	_, err = retry.Do(ctx, w.policy, func(ctx context.Context, _ int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook returned %s", resp.Status)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to send notification for %s: %w", m.ObjURI, err)
	}
	return nil
}
