package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kiumaa/kixikila/internal/auth"
)

// WebhookDispatcher POSTs each notification as JSON to a push gateway. The
// body is signed with the shared webhook key.
type WebhookDispatcher struct {
	url    string
	signer *auth.Signer
	client *http.Client
}

// NewWebhookDispatcher creates a dispatcher posting to url.
func NewWebhookDispatcher(url string, signer *auth.Signer, client *http.Client) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookDispatcher{url: url, signer: signer, client: client}
}

// Dispatch delivers n. Any non-2xx response is an error so the outbox retries.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)
	if d.signer != nil {
		req.Header.Set(auth.SignatureHeader, d.signer.Sign(body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification gateway returned %s", resp.Status)
	}
	return nil
}
