// Package lanhsm drives a hardware signing module on the local network. The
// module requires an open session before any operation and invalidates it
// after an idle period, so every call re-checks session age.
package lanhsm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fiscalhub/internal/device"
)

// Clock is injected for testability; defaults to time.Now.
type Clock func() time.Time

// Config holds the module settings resolved from the site configuration.
type Config struct {
	Host       string
	AdminPIN   string
	SessionTTL time.Duration
}

// ConfigFromSettings validates and extracts the lan_hsm settings.
func ConfigFromSettings(settings map[string]string) (Config, error) {
	cfg := Config{
		Host:       settings["host"],
		AdminPIN:   settings["admin_pin"],
		SessionTTL: 5 * time.Minute,
	}
	if ttl := settings["session_ttl"]; ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return Config{}, fmt.Errorf("lan_hsm session_ttl: %w", err)
		}
		cfg.SessionTTL = d
	}
	if cfg.Host == "" || cfg.AdminPIN == "" {
		return Config{}, errors.New("lan_hsm requires host and admin_pin settings")
	}
	return cfg, nil
}

// Client speaks the module's local HTTP protocol.
type Client struct {
	cfg   Config
	http  *http.Client
	clock Clock

	mu          sync.Mutex
	sessionID   string
	sessionSeen time.Time

	txs *device.TxRegistry
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// New constructs a LAN HSM client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 15 * time.Second},
		clock: time.Now,
		txs:   device.NewTxRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a session with the module.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	body := map[string]string{"admin_pin": c.cfg.AdminPIN}
	if err := c.call(ctx, "open-session", body, &resp); err != nil {
		return err
	}
	if resp.SessionID == "" {
		return device.NewError(device.ErrorBadData, device.TypeLANHSM, "empty session id", nil)
	}
	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.sessionSeen = c.clock()
	c.mu.Unlock()
	return nil
}

// Disconnect closes the session.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if id == "" {
		return nil
	}
	return c.call(ctx, "close-session", map[string]string{"session_id": id}, nil)
}

// IsConnected reports whether the session is still within its idle TTL.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID != "" && c.clock().Sub(c.sessionSeen) < c.cfg.SessionTTL
}

// ensureSession reopens the session when the idle TTL lapsed.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	return c.Connect(ctx)
}

// touch refreshes the idle timer after a successful module call.
func (c *Client) touch() {
	c.mu.Lock()
	c.sessionSeen = c.clock()
	c.mu.Unlock()
}

// StartTransaction opens a signing transaction on the module.
func (c *Client) StartTransaction(ctx context.Context, req device.StartRequest) (*device.StartResult, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"process_type": req.ProcessType,
		"process_data": base64.StdEncoding.EncodeToString(req.ProcessData),
		"client_id":    req.ClientID,
	}
	var resp struct {
		TransactionNumber uint64 `json:"transaction_number"`
		LogTime           int64  `json:"log_time"`
	}
	if err := c.call(ctx, "transaction/start", body, &resp); err != nil {
		return nil, err
	}
	c.touch()
	start := time.Unix(resp.LogTime, 0).UTC()
	c.txs.Put(&device.TxContext{
		TransactionNumber: resp.TransactionNumber,
		ProcessType:       req.ProcessType,
		ProcessData:       req.ProcessData,
		ClientID:          req.ClientID,
		StartTime:         start,
	})
	return &device.StartResult{TransactionNumber: resp.TransactionNumber, StartTime: start}, nil
}

// UpdateTransaction replaces the process data of an open transaction.
func (c *Client) UpdateTransaction(ctx context.Context, transactionNumber uint64, processData []byte) error {
	if _, ok := c.txs.Get(transactionNumber); !ok {
		return device.NewError(device.ErrorDeviceState, device.TypeLANHSM,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	body := map[string]any{
		"transaction_number": transactionNumber,
		"process_data":       base64.StdEncoding.EncodeToString(processData),
	}
	if err := c.call(ctx, "transaction/update", body, nil); err != nil {
		return err
	}
	c.touch()
	c.txs.Update(transactionNumber, processData)
	return nil
}

// FinishTransaction closes the transaction on the module.
func (c *Client) FinishTransaction(ctx context.Context, transactionNumber uint64, processType string, processData []byte) (*device.TransactionResult, error) {
	open, ok := c.txs.Get(transactionNumber)
	if !ok {
		return nil, device.NewError(device.ErrorDeviceState, device.TypeLANHSM,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"transaction_number": transactionNumber,
		"process_type":       processType,
		"process_data":       base64.StdEncoding.EncodeToString(processData),
	}
	var resp struct {
		TransactionNumber uint64 `json:"transaction_number"`
		SignatureCounter  uint64 `json:"signature_counter"`
		Signature         string `json:"signature"`
		Algorithm         string `json:"algorithm"`
		PublicKey         string `json:"public_key"`
		CertSerial        string `json:"cert_serial"`
		LogTime           int64  `json:"log_time"`
		QRCode            string `json:"qr_code"`
	}
	err := c.call(ctx, "transaction/finish", body, &resp)
	c.txs.Remove(transactionNumber)
	if err != nil {
		return nil, err
	}
	c.touch()
	return &device.TransactionResult{
		TransactionNumber: resp.TransactionNumber,
		SignatureCounter:  resp.SignatureCounter,
		Signature:         resp.Signature,
		Algorithm:         resp.Algorithm,
		PublicKey:         resp.PublicKey,
		CertificateSerial: resp.CertSerial,
		StartTime:         open.StartTime,
		EndTime:           time.Unix(resp.LogTime, 0).UTC(),
		QRPayload:         resp.QRCode,
	}, nil
}

// SelfTest runs the module self test.
func (c *Client) SelfTest(ctx context.Context) (*device.SelfTestResult, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Result string `json:"result"`
		Reason string `json:"reason"`
	}
	if err := c.call(ctx, "self-test", nil, &resp); err != nil {
		return nil, err
	}
	c.touch()
	return &device.SelfTestResult{Passed: resp.Result == "PASS", Error: resp.Reason}, nil
}

// DeviceInfo returns module metadata including certificate expiry.
func (c *Client) DeviceInfo(ctx context.Context) (*device.Info, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Serial     string `json:"serial"`
		Firmware   string `json:"firmware"`
		Algorithm  string `json:"algorithm"`
		CertSerial string `json:"cert_serial"`
		CertExpiry int64  `json:"cert_expiry"`
		Remaining  int64  `json:"remaining_signatures"`
	}
	if err := c.call(ctx, "info", nil, &resp); err != nil {
		return nil, err
	}
	c.touch()
	return &device.Info{
		SerialNumber:         resp.Serial,
		FirmwareVersion:      resp.Firmware,
		SignatureAlgorithm:   resp.Algorithm,
		CertificateSerial:    resp.CertSerial,
		CertificateExpiresAt: time.Unix(resp.CertExpiry, 0).UTC(),
		RemainingSignatures:  resp.Remaining,
	}, nil
}

// ExportAuditData streams the module's export for the range.
func (c *Client) ExportAuditData(ctx context.Context, start, end time.Time) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s/v1/export?from=%s&to=%s",
		c.cfg.Host, strconv.FormatInt(start.Unix(), 10), strconv.FormatInt(end.Unix(), 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, device.NewError(device.ErrorInternal, device.TypeLANHSM, "build request", err)
	}
	c.mu.Lock()
	req.Header.Set("X-Session-Id", c.sessionID)
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, c.statusError(resp.StatusCode, "export")
	}
	c.touch()
	return io.ReadAll(resp.Body)
}

// RegisterClient registers a till with the module.
func (c *Client) RegisterClient(ctx context.Context, clientID string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	if err := c.call(ctx, "client/register", map[string]string{"client_id": clientID}, nil); err != nil {
		return err
	}
	c.touch()
	return nil
}

// DeregisterClient removes a till from the module.
func (c *Client) DeregisterClient(ctx context.Context, clientID string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	if err := c.call(ctx, "client/deregister", map[string]string{"client_id": clientID}, nil); err != nil {
		return err
	}
	c.touch()
	return nil
}

func (c *Client) call(ctx context.Context, op string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+c.cfg.Host+"/v1/"+op, reader)
	if err != nil {
		return device.NewError(device.ErrorInternal, device.TypeLANHSM, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set("X-Session-Id", c.sessionID)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode, op)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return device.NewError(device.ErrorBadData, device.TypeLANHSM, "decode response", err)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.NewError(device.ErrorTimeout, device.TypeLANHSM, "module timed out", err)
	}
	return device.NewError(device.ErrorProviderOutage, device.TypeLANHSM, "module unreachable", err)
}

func (c *Client) statusError(status int, op string) error {
	switch {
	case status == http.StatusUnauthorized:
		// The module kills sessions on its own schedule; drop ours so the
		// next call reopens.
		c.mu.Lock()
		c.sessionID = ""
		c.mu.Unlock()
		return device.NewError(device.ErrorAuthentication, device.TypeLANHSM,
			fmt.Sprintf("%s returned %d", op, status), nil)
	case status == http.StatusConflict || status == http.StatusNotFound:
		return device.NewError(device.ErrorDeviceState, device.TypeLANHSM,
			fmt.Sprintf("%s returned %d", op, status), nil)
	case status >= 500:
		return device.NewError(device.ErrorProviderOutage, device.TypeLANHSM,
			fmt.Sprintf("%s returned %d", op, status), nil)
	default:
		return device.NewError(device.ErrorInternal, device.TypeLANHSM,
			fmt.Sprintf("%s returned %d", op, status), nil)
	}
}
