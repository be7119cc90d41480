// Package alert delivers operator notifications for conditions that
// need a human: halted orders, under-capitalization, repeated RPC
// failures. Webhook-based so it plugs into Slack-compatible endpoints.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"
)

// Payload is the data available to the message template.
type Payload struct {
	Subject string
	Body    string
	At      time.Time
}

// Webhook posts rendered alerts to an HTTP endpoint as a Slack-style
// {"text": ...} payload.
type Webhook struct {
	url    string
	render *template.Template
	client *http.Client
}

// NewWebhook builds the sender. tmpl may be empty; the default renders
// subject and body on one line.
func NewWebhook(url, tmpl string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if tmpl == "" {
		tmpl = "[fusion-resolver] {{.Subject}}: {{.Body}}"
	}
	t, err := template.New("alert").Funcs(template.FuncMap{
		"short_hash": func(h string) string {
			if len(h) <= 14 {
				return h
			}
			return h[:8] + "..." + h[len(h)-4:]
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}
	return &Webhook{
		url:    url,
		render: t,
		client: &http.Client{Timeout: 8 * time.Second},
	}, nil
}

// Notify renders and posts one alert.
func (w *Webhook) Notify(ctx context.Context, subject, body string) error {
	var buf bytes.Buffer
	if err := w.render.Execute(&buf, Payload{Subject: subject, Body: body, At: time.Now().UTC()}); err != nil {
		return fmt.Errorf("render alert: %w", err)
	}
	reqBody, err := json.Marshal(map[string]string{"text": buf.String()})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook status %d", resp.StatusCode)
	}
	return nil
}
