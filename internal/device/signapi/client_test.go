package signapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/device"
)

type fakeProvider struct {
	sessions atomic.Int64
}

// handlePost registers h for POST requests on pattern, matching the behavior
// of Go 1.22+ "POST /path" ServeMux patterns on older toolchains.
func handlePost(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	handlePost(mux, "/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Token") != "token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.sessions.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionToken":     fmt.Sprintf("session-%d", n),
			"expiresInSeconds": 600,
		})
	})
	handlePost(mux, "/v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session-Token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"txId":      9,
			"startedAt": "2026-03-14T09:00:00Z",
		})
	})
	handlePost(mux, "/v1/transactions/9/finish", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"txId":       9,
			"finishedAt": "2026-03-14T09:00:02Z",
			"signature":  "sig",
			"sigCounter": 4,
			"certSerial": "CAFE02",
			"qrData":     "qr",
		})
	})
	return mux
}

func newTestClient(t *testing.T, now *time.Time) (*Client, *fakeProvider) {
	t.Helper()
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	cfg, err := ConfigFromSettings(map[string]string{
		"base_url": srv.URL, "api_token": "token-1", "unit_id": "unit-1",
	})
	require.NoError(t, err)

	client := New(cfg,
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return *now }),
	)
	return client, provider
}

func TestConfigFromSettings(t *testing.T) {
	_, err := ConfigFromSettings(map[string]string{"base_url": "https://api.example.com"})
	require.Error(t, err)
}

func TestSessionLifetimeFromResponse(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	client, provider := newTestClient(t, &now)

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())
	assert.Equal(t, int64(1), provider.sessions.Load())

	// The 600s TTL from the response drives liveness.
	now = now.Add(9 * time.Minute)
	assert.True(t, client.IsConnected())
	now = now.Add(2 * time.Minute)
	assert.False(t, client.IsConnected())

	// Next call transparently reopens the session.
	_, err := client.StartTransaction(context.Background(), device.StartRequest{
		ProcessType: "sale", ProcessData: []byte("10.00"), ClientID: "till-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.sessions.Load())
}

func TestTransactionFlow(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, &now)

	start, err := client.StartTransaction(context.Background(), device.StartRequest{
		ProcessType: "sale", ProcessData: []byte("10.00"), ClientID: "till-1",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(9), start.TransactionNumber)

	result, err := client.FinishTransaction(context.Background(), 9, "sale", []byte("10.00"))
	require.NoError(t, err)
	assert.Equal(t, "sig", result.Signature)
	assert.Equal(t, uint64(4), result.SignatureCounter)
	assert.Equal(t, "CAFE02", result.CertificateSerial)
	assert.Equal(t, start.StartTime, result.StartTime)

	_, err = client.FinishTransaction(context.Background(), 9, "sale", []byte("10.00"))
	require.ErrorIs(t, err, device.ErrUnknownTransaction)
}
