package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/velora-social/velora/internal/pkg/env"
)

// Notifier dispatches billing notifications. Every call is fire-and-forget
// for the webhook pipeline: the returned error is logged and discarded by the
// caller so a flaky mailer never blocks the provider's acknowledgment.
type Notifier interface {
	SendSubscriptionConfirmation(ctx context.Context, email, name string) error
	SendRenewalNotice(ctx context.Context, email, name string) error
	SendCancellationNotice(ctx context.Context, email, name string, accessUntil time.Time) error
	SendPaymentFailedNotice(ctx context.Context, email, name string) error
}

// Client posts JSON payloads to the internal notification-sender endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClientFromEnv builds a notifier from NOTIFY_BASE_URL.
func NewClientFromEnv() *Client {
	return &Client{
		BaseURL: strings.TrimRight(env.GetEnv("NOTIFY_BASE_URL", ""), "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) SendSubscriptionConfirmation(ctx context.Context, email, name string) error {
	return c.post(ctx, "/send-subscription-confirmation", map[string]string{
		"email": email,
		"name":  name,
	})
}

func (c *Client) SendRenewalNotice(ctx context.Context, email, name string) error {
	return c.post(ctx, "/send-renewal-notification", map[string]string{
		"email": email,
		"name":  name,
	})
}

func (c *Client) SendCancellationNotice(ctx context.Context, email, name string, accessUntil time.Time) error {
	return c.post(ctx, "/send-cancellation-notification", map[string]string{
		"email":        email,
		"name":         name,
		"access_until": accessUntil.Format(time.RFC3339),
	})
}

func (c *Client) SendPaymentFailedNotice(ctx context.Context, email, name string) error {
	return c.post(ctx, "/send-payment-failed-notification", map[string]string{
		"email": email,
		"name":  name,
	})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		return errors.New("NOTIFY_BASE_URL is not configured")
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification request %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}
	return nil
}
