package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSubscriptionConfirmation(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	require.NoError(t, c.SendSubscriptionConfirmation(context.Background(), "a@b.com", "Anna"))

	assert.Equal(t, "/send-subscription-confirmation", gotPath)
	assert.Equal(t, "a@b.com", gotBody["email"])
	assert.Equal(t, "Anna", gotBody["name"])
}

func TestSendCancellationNoticeIncludesAccessUntil(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
	}))
	defer srv.Close()

	until := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	require.NoError(t, c.SendCancellationNotice(context.Background(), "a@b.com", "Anna", until))

	assert.Equal(t, "2026-09-01T00:00:00Z", gotBody["access_until"])
}

func TestPostNon2xxReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
	err := c.SendRenewalNotice(context.Background(), "a@b.com", "Anna")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestPostWithoutBaseURLReturnsError(t *testing.T) {
	c := &Client{}
	require.Error(t, c.SendPaymentFailedNotice(context.Background(), "a@b.com", "Anna"))
}
