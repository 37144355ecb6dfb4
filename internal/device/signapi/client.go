// Package signapi implements the device contract against the second cloud
// signing provider. Unlike cloudtse the token is opaque: its lifetime comes
// from the session response, not from a JWT claim.
package signapi

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

// Config holds the provider settings resolved from the site configuration.
type Config struct {
	BaseURL  string
	APIToken string
	UnitID   string
}

// ConfigFromSettings validates and extracts the sign_api settings.
func ConfigFromSettings(settings map[string]string) (Config, error) {
	cfg := Config{
		BaseURL:  settings["base_url"],
		APIToken: settings["api_token"],
		UnitID:   settings["unit_id"],
	}
	if cfg.BaseURL == "" || cfg.APIToken == "" || cfg.UnitID == "" {
		return Config{}, errors.New("sign_api requires base_url, api_token, unit_id settings")
	}
	return cfg, nil
}

// Client talks to the sign_api REST surface.
type Client struct {
	cfg   Config
	http  *http.Client
	clock Clock

	mu            sync.Mutex
	sessionToken  string
	sessionExpiry time.Time

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

// New constructs a sign_api client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: 30 * time.Second},
		clock: time.Now,
		txs:   device.NewTxRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a session. The response carries the TTL in seconds.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		SessionToken string `json:"sessionToken"`
		ExpiresIn    int64  `json:"expiresInSeconds"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/sessions", nil, &resp); err != nil {
		return err
	}
	if resp.SessionToken == "" || resp.ExpiresIn <= 0 {
		return device.NewError(device.ErrorBadData, device.TypeSignAPI, "invalid session response", nil)
	}
	c.mu.Lock()
	c.sessionToken = resp.SessionToken
	c.sessionExpiry = c.clock().Add(time.Duration(resp.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

// Disconnect closes the session server-side and drops it locally.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	token := c.sessionToken
	c.sessionToken = ""
	c.sessionExpiry = time.Time{}
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	// Best effort; the session ages out server-side anyway.
	_ = c.call(ctx, http.MethodDelete, "/v1/sessions/current", nil, nil)
	return nil
}

// IsConnected reports session liveness.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken != "" && c.clock().Before(c.sessionExpiry)
}

func (c *Client) ensureSession(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	return c.Connect(ctx)
}

// StartTransaction opens a signing transaction on the unit.
func (c *Client) StartTransaction(ctx context.Context, req device.StartRequest) (*device.StartResult, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"unitId":    c.cfg.UnitID,
		"operation": req.ProcessType,
		"payload":   base64.StdEncoding.EncodeToString(req.ProcessData),
		"terminal":  req.ClientID,
	}
	var resp struct {
		TxID      uint64 `json:"txId"`
		StartedAt string `json:"startedAt"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/transactions", body, &resp); err != nil {
		return nil, err
	}
	start, err := time.Parse(time.RFC3339, resp.StartedAt)
	if err != nil {
		return nil, device.NewError(device.ErrorBadData, device.TypeSignAPI, "bad startedAt timestamp", err)
	}
	c.txs.Put(&device.TxContext{
		TransactionNumber: resp.TxID,
		ProcessType:       req.ProcessType,
		ProcessData:       req.ProcessData,
		ClientID:          req.ClientID,
		StartTime:         start,
	})
	return &device.StartResult{TransactionNumber: resp.TxID, StartTime: start}, nil
}

// UpdateTransaction replaces the payload of an open transaction.
func (c *Client) UpdateTransaction(ctx context.Context, transactionNumber uint64, processData []byte) error {
	if _, ok := c.txs.Get(transactionNumber); !ok {
		return device.NewError(device.ErrorDeviceState, device.TypeSignAPI,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	body := map[string]any{"payload": base64.StdEncoding.EncodeToString(processData)}
	path := "/v1/transactions/" + strconv.FormatUint(transactionNumber, 10)
	if err := c.call(ctx, http.MethodPatch, path, body, nil); err != nil {
		return err
	}
	c.txs.Update(transactionNumber, processData)
	return nil
}

// FinishTransaction closes the transaction and returns the signature.
func (c *Client) FinishTransaction(ctx context.Context, transactionNumber uint64, processType string, processData []byte) (*device.TransactionResult, error) {
	open, ok := c.txs.Get(transactionNumber)
	if !ok {
		return nil, device.NewError(device.ErrorDeviceState, device.TypeSignAPI,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	body := map[string]any{
		"operation": processType,
		"payload":   base64.StdEncoding.EncodeToString(processData),
	}
	var resp struct {
		TxID       uint64 `json:"txId"`
		FinishedAt string `json:"finishedAt"`
		Signature  string `json:"signature"`
		SigCounter uint64 `json:"sigCounter"`
		Algorithm  string `json:"algorithm"`
		PublicKey  string `json:"publicKey"`
		CertSerial string `json:"certSerial"`
		QRData     string `json:"qrData"`
	}
	path := "/v1/transactions/" + strconv.FormatUint(transactionNumber, 10) + "/finish"
	err := c.call(ctx, http.MethodPost, path, body, &resp)
	c.txs.Remove(transactionNumber)
	if err != nil {
		return nil, err
	}
	end, perr := time.Parse(time.RFC3339, resp.FinishedAt)
	if perr != nil {
		return nil, device.NewError(device.ErrorBadData, device.TypeSignAPI, "bad finishedAt timestamp", perr)
	}
	return &device.TransactionResult{
		TransactionNumber: resp.TxID,
		SignatureCounter:  resp.SigCounter,
		Signature:         resp.Signature,
		Algorithm:         resp.Algorithm,
		PublicKey:         resp.PublicKey,
		CertificateSerial: resp.CertSerial,
		StartTime:         open.StartTime,
		EndTime:           end,
		QRPayload:         resp.QRData,
	}, nil
}

// SelfTest triggers the provider self check.
func (c *Client) SelfTest(ctx context.Context) (*device.SelfTestResult, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Status string `json:"status"`
		Detail string `json:"detail"`
	}
	if err := c.call(ctx, http.MethodPost, "/v1/units/"+c.cfg.UnitID+"/selftest", nil, &resp); err != nil {
		return nil, err
	}
	return &device.SelfTestResult{Passed: resp.Status == "OK", Error: resp.Detail}, nil
}

// DeviceInfo returns unit metadata including certificate expiry.
func (c *Client) DeviceInfo(ctx context.Context) (*device.Info, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Serial     string `json:"serial"`
		Firmware   string `json:"firmware"`
		Algorithm  string `json:"algorithm"`
		CertSerial string `json:"certSerial"`
		CertExpiry string `json:"certExpiry"`
		Remaining  int64  `json:"remainingSignatures"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/units/"+c.cfg.UnitID, nil, &resp); err != nil {
		return nil, err
	}
	expiry, err := time.Parse(time.RFC3339, resp.CertExpiry)
	if err != nil {
		return nil, device.NewError(device.ErrorBadData, device.TypeSignAPI, "bad certExpiry timestamp", err)
	}
	return &device.Info{
		SerialNumber:         resp.Serial,
		FirmwareVersion:      resp.Firmware,
		SignatureAlgorithm:   resp.Algorithm,
		CertificateSerial:    resp.CertSerial,
		CertificateExpiresAt: expiry,
		RemainingSignatures:  resp.Remaining,
	}, nil
}

// ExportAuditData downloads the audit export for the date range.
func (c *Client) ExportAuditData(ctx context.Context, start, end time.Time) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/v1/units/%s/export?from=%s&to=%s",
		c.cfg.UnitID, start.UTC().Format("2006-01-02"), end.UTC().Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, device.NewError(device.ErrorInternal, device.TypeSignAPI, "build request", err)
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, c.statusError(resp.StatusCode, path)
	}
	return io.ReadAll(resp.Body)
}

// RegisterClient registers a terminal with the unit.
func (c *Client) RegisterClient(ctx context.Context, clientID string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	body := map[string]string{"terminal": clientID}
	return c.call(ctx, http.MethodPost, "/v1/units/"+c.cfg.UnitID+"/terminals", body, nil)
}

// DeregisterClient removes a terminal from the unit.
func (c *Client) DeregisterClient(ctx context.Context, clientID string) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}
	return c.call(ctx, http.MethodDelete, "/v1/units/"+c.cfg.UnitID+"/terminals/"+clientID, nil, nil)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Token", c.cfg.APIToken)
	c.mu.Lock()
	if c.sessionToken != "" {
		req.Header.Set("X-Session-Token", c.sessionToken)
	}
	c.mu.Unlock()
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return device.NewError(device.ErrorInternal, device.TypeSignAPI, "build request", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return device.NewError(device.ErrorBadData, device.TypeSignAPI, "decode response", err)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.NewError(device.ErrorTimeout, device.TypeSignAPI, "request timed out", err)
	}
	return device.NewError(device.ErrorProviderOutage, device.TypeSignAPI, "provider unreachable", err)
}

func (c *Client) statusError(status int, path string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// An expired session also answers 401; drop it so the next call
		// re-establishes instead of replaying a dead token.
		c.mu.Lock()
		c.sessionToken = ""
		c.mu.Unlock()
		return device.NewError(device.ErrorAuthentication, device.TypeSignAPI,
			fmt.Sprintf("%s returned %d", path, status), nil)
	case status == http.StatusNotFound || status == http.StatusConflict:
		return device.NewError(device.ErrorDeviceState, device.TypeSignAPI,
			fmt.Sprintf("%s returned %d", path, status), nil)
	case status >= 500:
		return device.NewError(device.ErrorProviderOutage, device.TypeSignAPI,
			fmt.Sprintf("%s returned %d", path, status), nil)
	default:
		return device.NewError(device.ErrorInternal, device.TypeSignAPI,
			fmt.Sprintf("%s returned %d", path, status), nil)
	}
}
