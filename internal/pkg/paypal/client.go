package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/velora-social/velora/internal/pkg/cache"
	"github.com/velora-social/velora/internal/pkg/env"
)

const (
	defaultAPIBaseURL = "https://api-m.paypal.com"

	tokenCacheKey    = "paypal:access_token"
	tokenCacheMargin = 60 * time.Second
)

// TokenStore caches short-lived bearer tokens. Implementations are
// best-effort: a failing store degrades to a fresh token fetch.
type TokenStore interface {
	GetToken(ctx context.Context) (string, bool)
	PutToken(ctx context.Context, token string, ttl time.Duration)
}

// Client is a thin authenticated wrapper over the provider's REST API:
// client-credential token exchange, subscription lookup and webhook
// signature verification.
type Client struct {
	ClientID     string
	ClientSecret string
	WebhookID    string

	APIBaseURL string

	HTTPClient *http.Client
	TokenStore TokenStore
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// SignatureHeaders carries the provider-supplied headers that accompany each
// webhook delivery and feed the verification call.
type SignatureHeaders struct {
	AuthAlgo         string
	CertURL          string
	TransmissionID   string
	TransmissionSig  string
	TransmissionTime string
}

// NewClientFromEnv builds a client from PAYPAL_* environment configuration.
func NewClientFromEnv() *Client {
	return &Client{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		WebhookID:    strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		APIBaseURL:   strings.TrimRight(env.GetEnv("PAYPAL_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		TokenStore: redisTokenStore{},
	}
}

// GetAccessToken exchanges client credentials for a short-lived bearer token
// via HTTP Basic auth and a client-credentials grant.
func (c *Client) GetAccessToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	if c.TokenStore != nil {
		if token, ok := c.TokenStore.GetToken(ctx); ok {
			return token, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/v1/oauth2/token",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token exchange failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out tokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token exchange returned empty access_token")
	}

	if c.TokenStore != nil && out.ExpiresIn > 0 {
		ttl := time.Duration(out.ExpiresIn)*time.Second - tokenCacheMargin
		if ttl > 0 {
			c.TokenStore.PutToken(ctx, out.AccessToken, ttl)
		}
	}
	return out.AccessToken, nil
}

// GetSubscription fetches the full subscription resource by id. Used when an
// event's embedded resource is partial, e.g. a sale event that only carries a
// billing-agreement id.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID, accessToken string) (*SubscriptionResource, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errors.New("access token is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/v1/billing/subscriptions/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paypal subscription request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out SubscriptionResource
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyWebhookSignature asks the provider whether the raw request body was
// genuinely sent by it. When no webhook id is configured, verification is
// skipped entirely; this insecure mode only logs a diagnostic.
func (c *Client) VerifyWebhookSignature(ctx context.Context, hdr SignatureHeaders, rawBody []byte) (bool, error) {
	if strings.TrimSpace(c.WebhookID) == "" {
		log.Printf("paypal: PAYPAL_WEBHOOK_ID not configured, skipping webhook signature verification")
		return true, nil
	}

	token, err := c.GetAccessToken(ctx)
	if err != nil {
		return false, err
	}

	payload := map[string]interface{}{
		"auth_algo":         hdr.AuthAlgo,
		"cert_url":          hdr.CertURL,
		"transmission_id":   hdr.TransmissionID,
		"transmission_sig":  hdr.TransmissionSig,
		"transmission_time": hdr.TransmissionTime,
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(rawBody),
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL()+"/v1/notifications/verify-webhook-signature", bytes.NewReader(buf))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("paypal signature verification failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, err
	}
	return strings.EqualFold(out.VerificationStatus, "SUCCESS"), nil
}

func (c *Client) baseURL() string {
	base := strings.TrimRight(c.APIBaseURL, "/")
	if base == "" {
		base = defaultAPIBaseURL
	}
	return base
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// redisTokenStore caches the bearer token in the shared Redis cache.
type redisTokenStore struct{}

func (redisTokenStore) GetToken(ctx context.Context) (string, bool) {
	token, err := cache.Get(tokenCacheKey)
	if err != nil || strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

func (redisTokenStore) PutToken(ctx context.Context, token string, ttl time.Duration) {
	if err := cache.Set(tokenCacheKey, token, ttl); err != nil {
		log.Printf("paypal: could not cache access token: %v", err)
	}
}
