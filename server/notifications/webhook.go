package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/www"
)

const DefaultWebhookTimeout = 10 * time.Second

// WebhookDispatcher POSTs alerts as JSON to a URL.
// If the alert has a Recipient that looks like a URL, that is used instead of the default URL.
type WebhookDispatcher struct {
	URL         string
	Token       string // Optional bearer token
	HTTPTimeout time.Duration
	Client      *http.Client

	log logs.Log
}

func NewWebhookDispatcher(log logs.Log, url, token string) *WebhookDispatcher {
	return &WebhookDispatcher{
		URL:         url,
		Token:       token,
		HTTPTimeout: DefaultWebhookTimeout,
		Client:      http.DefaultClient,
		log:         logs.NewPrefixLogger(log, "Webhook"),
	}
}

func (w *WebhookDispatcher) Send(ctx context.Context, alert Alert) (Ack, error) {
	url := w.URL
	if isURL(alert.Recipient) {
		url = alert.Recipient
	}
	if url == "" {
		return Ack{}, fmt.Errorf("Webhook has no URL")
	}

	// SYNC-ALERT-JSON
	type webhookJSON struct {
		Alert
		Summary string `json:"summary"`
	}
	j, err := json.Marshal(&webhookJSON{Alert: alert, Summary: alert.Describe()})
	if err != nil {
		return Ack{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.HTTPTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(j))
	if err != nil {
		return Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}
	resp, err := www.Do(w.Client, req)
	if err != nil {
		return Ack{}, fmt.Errorf("Failed to send alert: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	w.log.Debugf("Alert for detection %v delivered to %v", alert.DetectionID, url)
	return Ack{Recipient: url, Message: string(body)}, nil
}

func isURL(s string) bool {
	return len(s) > 8 && (s[:7] == "http://" || s[:8] == "https://")
}
