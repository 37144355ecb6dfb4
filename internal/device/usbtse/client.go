// Package usbtse drives a USB-attached signing device through the vendor's
// local daemon. The daemon owns the USB handle and PIN state; this client is
// plain localhost HTTP with no authentication of its own.
package usbtse

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"fiscalhub/internal/device"
)

// Config holds the daemon settings resolved from the site configuration.
type Config struct {
	DaemonAddr string
	Slot       string
}

// ConfigFromSettings validates and extracts the usb_tse settings.
func ConfigFromSettings(settings map[string]string) (Config, error) {
	cfg := Config{
		DaemonAddr: settings["daemon_addr"],
		Slot:       settings["slot"],
	}
	if cfg.DaemonAddr == "" {
		cfg.DaemonAddr = "127.0.0.1:7345"
	}
	if cfg.Slot == "" {
		cfg.Slot = "0"
	}
	return cfg, nil
}

// Client talks to the local daemon.
type Client struct {
	cfg  Config
	http *http.Client

	// connected mirrors the daemon's last reported device state. The daemon
	// can lose the USB handle at any time, so probes refresh this.
	connected atomic.Bool

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

// New constructs a USB daemon client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 10 * time.Second},
		txs:  device.NewTxRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect asks the daemon to claim the device slot.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/claim", nil, &resp); err != nil {
		c.connected.Store(false)
		return err
	}
	if resp.State != "READY" {
		c.connected.Store(false)
		return device.NewError(device.ErrorDeviceState, device.TypeUSBTSE,
			"device state "+resp.State, nil)
	}
	c.connected.Store(true)
	return nil
}

// Disconnect releases the device slot.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connected.Store(false)
	return c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/release", nil, nil)
}

// IsConnected reports the last known daemon/device state.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// StartTransaction opens a signing transaction.
func (c *Client) StartTransaction(ctx context.Context, req device.StartRequest) (*device.StartResult, error) {
	if !c.IsConnected() {
		return nil, device.NewError(device.ErrorNotConnected, device.TypeUSBTSE, "claim the device first", device.ErrNotConnected)
	}
	body := map[string]any{
		"process_type": req.ProcessType,
		"process_data": base64.StdEncoding.EncodeToString(req.ProcessData),
		"client_id":    req.ClientID,
	}
	var resp struct {
		Number uint64 `json:"number"`
		Time   int64  `json:"time"`
	}
	if err := c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/tx/start", body, &resp); err != nil {
		return nil, err
	}
	start := time.Unix(resp.Time, 0).UTC()
	c.txs.Put(&device.TxContext{
		TransactionNumber: resp.Number,
		ProcessType:       req.ProcessType,
		ProcessData:       req.ProcessData,
		ClientID:          req.ClientID,
		StartTime:         start,
	})
	return &device.StartResult{TransactionNumber: resp.Number, StartTime: start}, nil
}

// UpdateTransaction replaces the process data of an open transaction.
func (c *Client) UpdateTransaction(ctx context.Context, transactionNumber uint64, processData []byte) error {
	if !c.IsConnected() {
		return device.NewError(device.ErrorNotConnected, device.TypeUSBTSE, "claim the device first", device.ErrNotConnected)
	}
	if _, ok := c.txs.Get(transactionNumber); !ok {
		return device.NewError(device.ErrorDeviceState, device.TypeUSBTSE,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	body := map[string]any{
		"number":       transactionNumber,
		"process_data": base64.StdEncoding.EncodeToString(processData),
	}
	if err := c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/tx/update", body, nil); err != nil {
		return err
	}
	c.txs.Update(transactionNumber, processData)
	return nil
}

// FinishTransaction closes the transaction on the device.
func (c *Client) FinishTransaction(ctx context.Context, transactionNumber uint64, processType string, processData []byte) (*device.TransactionResult, error) {
	if !c.IsConnected() {
		return nil, device.NewError(device.ErrorNotConnected, device.TypeUSBTSE, "claim the device first", device.ErrNotConnected)
	}
	open, ok := c.txs.Get(transactionNumber)
	if !ok {
		return nil, device.NewError(device.ErrorDeviceState, device.TypeUSBTSE,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	body := map[string]any{
		"number":       transactionNumber,
		"process_type": processType,
		"process_data": base64.StdEncoding.EncodeToString(processData),
	}
	var resp struct {
		Number     uint64 `json:"number"`
		SigCounter uint64 `json:"sig_counter"`
		Signature  string `json:"signature"`
		Algorithm  string `json:"algorithm"`
		PublicKey  string `json:"public_key"`
		CertSerial string `json:"cert_serial"`
		Time       int64  `json:"time"`
		QR         string `json:"qr"`
	}
	err := c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/tx/finish", body, &resp)
	c.txs.Remove(transactionNumber)
	if err != nil {
		return nil, err
	}
	return &device.TransactionResult{
		TransactionNumber: resp.Number,
		SignatureCounter:  resp.SigCounter,
		Signature:         resp.Signature,
		Algorithm:         resp.Algorithm,
		PublicKey:         resp.PublicKey,
		CertificateSerial: resp.CertSerial,
		StartTime:         open.StartTime,
		EndTime:           time.Unix(resp.Time, 0).UTC(),
		QRPayload:         resp.QR,
	}, nil
}

// SelfTest runs the device self test through the daemon. It also refreshes
// the connected flag since the daemon re-probes the USB handle.
func (c *Client) SelfTest(ctx context.Context) (*device.SelfTestResult, error) {
	var resp struct {
		Passed bool   `json:"passed"`
		Error  string `json:"error"`
	}
	if err := c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/self-test", nil, &resp); err != nil {
		c.connected.Store(false)
		return nil, err
	}
	c.connected.Store(resp.Passed)
	return &device.SelfTestResult{Passed: resp.Passed, Error: resp.Error}, nil
}

// DeviceInfo returns device metadata including certificate expiry.
func (c *Client) DeviceInfo(ctx context.Context) (*device.Info, error) {
	var resp struct {
		Serial     string `json:"serial"`
		Firmware   string `json:"firmware"`
		Algorithm  string `json:"algorithm"`
		CertSerial string `json:"cert_serial"`
		CertExpiry int64  `json:"cert_expiry"`
		Remaining  int64  `json:"remaining"`
	}
	if err := c.call(ctx, http.MethodGet, "/device/"+c.cfg.Slot+"/info", nil, &resp); err != nil {
		return nil, err
	}
	return &device.Info{
		SerialNumber:         resp.Serial,
		FirmwareVersion:      resp.Firmware,
		SignatureAlgorithm:   resp.Algorithm,
		CertificateSerial:    resp.CertSerial,
		CertificateExpiresAt: time.Unix(resp.CertExpiry, 0).UTC(),
		RemainingSignatures:  resp.Remaining,
	}, nil
}

// ExportAuditData downloads the device export for the range.
func (c *Client) ExportAuditData(ctx context.Context, start, end time.Time) ([]byte, error) {
	url := fmt.Sprintf("http://%s/device/%s/export?from=%d&to=%d",
		c.cfg.DaemonAddr, c.cfg.Slot, start.Unix(), end.Unix())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, device.NewError(device.ErrorInternal, device.TypeUSBTSE, "build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, "export")
	}
	return io.ReadAll(resp.Body)
}

// RegisterClient registers a till with the device.
func (c *Client) RegisterClient(ctx context.Context, clientID string) error {
	body := map[string]string{"client_id": clientID}
	return c.call(ctx, http.MethodPost, "/device/"+c.cfg.Slot+"/clients", body, nil)
}

// DeregisterClient removes a till from the device.
func (c *Client) DeregisterClient(ctx context.Context, clientID string) error {
	return c.call(ctx, http.MethodDelete, "/device/"+c.cfg.Slot+"/clients/"+clientID, nil, nil)
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.cfg.DaemonAddr+path, reader)
	if err != nil {
		return device.NewError(device.ErrorInternal, device.TypeUSBTSE, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return device.NewError(device.ErrorBadData, device.TypeUSBTSE, "decode response", err)
	}
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.NewError(device.ErrorTimeout, device.TypeUSBTSE, "daemon timed out", err)
	}
	return device.NewError(device.ErrorProviderOutage, device.TypeUSBTSE, "daemon unreachable", err)
}

func statusError(status int, path string) error {
	switch {
	case status == http.StatusConflict || status == http.StatusNotFound:
		return device.NewError(device.ErrorDeviceState, device.TypeUSBTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	case status == http.StatusLocked:
		return device.NewError(device.ErrorDeviceState, device.TypeUSBTSE,
			"device PIN locked", nil)
	case status >= 500:
		return device.NewError(device.ErrorProviderOutage, device.TypeUSBTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	default:
		return device.NewError(device.ErrorInternal, device.TypeUSBTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	}
}
