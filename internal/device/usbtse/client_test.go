package usbtse

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/device"
)

type fakeDaemon struct {
	// state is what /claim and /self-test report back.
	state  atomic.Value
	passed atomic.Bool
	// startData holds the base64 process data seen by the last tx/start.
	startData atomic.Value
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

func (f *fakeDaemon) handler() http.Handler {
	mux := http.NewServeMux()
	handlePost(mux, "/device/0/claim", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"state": f.state.Load().(string)})
	})
	handlePost(mux, "/device/0/release", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handlePost(mux, "/device/0/self-test", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"passed": f.passed.Load()}
		if !f.passed.Load() {
			resp["error"] = "handle lost"
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	handlePost(mux, "/device/0/tx/start", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ProcessData string `json:"process_data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.startData.Store(req.ProcessData)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number": 7,
			"time":   time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Unix(),
		})
	})
	handlePost(mux, "/device/0/tx/finish", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"number":      7,
			"sig_counter": 42,
			"signature":   "CAFE07",
			"algorithm":   "ecdsa-plain-SHA256",
			"time":        time.Date(2026, 3, 14, 9, 0, 30, 0, time.UTC).Unix(),
		})
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeDaemon) {
	t.Helper()
	daemon := &fakeDaemon{}
	daemon.state.Store("READY")
	daemon.passed.Store(true)
	srv := httptest.NewServer(daemon.handler())
	t.Cleanup(srv.Close)

	cfg, err := ConfigFromSettings(map[string]string{
		"daemon_addr": srv.Listener.Addr().String(),
	})
	require.NoError(t, err)

	return New(cfg, WithHTTPClient(srv.Client())), daemon
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromSettings(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7345", cfg.DaemonAddr)
	assert.Equal(t, "0", cfg.Slot)
}

func TestConnectedStateTracksDaemon(t *testing.T) {
	client, daemon := newTestClient(t)
	assert.False(t, client.IsConnected())

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())

	// A claim that does not land in READY must not flip the flag on.
	require.NoError(t, client.Disconnect(context.Background()))
	daemon.state.Store("PIN_REQUIRED")
	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, client.IsConnected())

	var adapterErr *device.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, device.ErrorDeviceState, adapterErr.Category)
}

func TestSelfTestRefreshesConnectedFlag(t *testing.T) {
	client, daemon := newTestClient(t)
	require.NoError(t, client.Connect(context.Background()))

	daemon.passed.Store(false)
	result, err := client.SelfTest(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, "handle lost", result.Error)
	assert.False(t, client.IsConnected())

	daemon.passed.Store(true)
	result, err = client.SelfTest(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.True(t, client.IsConnected())
}

func TestTransactionRequiresConnection(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.StartTransaction(context.Background(), device.StartRequest{
		ProcessType: "sale", ProcessData: []byte("10.00"), ClientID: "till-1",
	})
	require.ErrorIs(t, err, device.ErrNotConnected)

	var adapterErr *device.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.True(t, adapterErr.Retryable)
}

func TestTransactionFlow(t *testing.T) {
	client, daemon := newTestClient(t)
	require.NoError(t, client.Connect(context.Background()))

	start, err := client.StartTransaction(context.Background(), device.StartRequest{
		ProcessType: "sale", ProcessData: []byte("10.00"), ClientID: "till-1",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), start.TransactionNumber)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("10.00")), daemon.startData.Load())

	result, err := client.FinishTransaction(context.Background(), 7, "sale", []byte("10.00"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), result.SignatureCounter)
	assert.Equal(t, "CAFE07", result.Signature)
	assert.Equal(t, start.StartTime, result.StartTime)

	// The registry forgets the transaction once it is finished.
	_, err = client.FinishTransaction(context.Background(), 7, "sale", []byte("10.00"))
	require.ErrorIs(t, err, device.ErrUnknownTransaction)
}
