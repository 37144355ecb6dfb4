// Package cloudtse implements the device contract against the primary
// cloud-hosted TSE service. Authentication is a bearer token obtained from an
// API key pair; the token is a JWT whose exp claim drives refresh.
package cloudtse

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fiscalhub/internal/device"
)

// tokenSkew forces a refresh slightly before the advertised expiry so an
// in-flight request never rides a token that dies mid-call.
const tokenSkew = 30 * time.Second

// Clock is injected for testability; defaults to time.Now.
type Clock func() time.Time

// Config holds the provider settings resolved from the site configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	TSSID     string
}

// ConfigFromSettings validates and extracts the cloud TSE settings.
func ConfigFromSettings(settings map[string]string) (Config, error) {
	cfg := Config{
		BaseURL:   settings["api_url"],
		APIKey:    settings["api_key"],
		APISecret: settings["api_secret"],
		TSSID:     settings["tss_id"],
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.APISecret == "" || cfg.TSSID == "" {
		return Config{}, errors.New("cloud_tse requires api_url, api_key, api_secret, tss_id settings")
	}
	return cfg, nil
}

// Client talks to the cloud TSE REST API.
type Client struct {
	cfg   Config
	http  *http.Client
	clock Clock

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time

	txs *device.TxRegistry
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client (tests, custom timeouts).
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

// New constructs a cloud TSE client. No network call happens until Connect.
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

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// Connect authenticates and caches the bearer token.
func (c *Client) Connect(ctx context.Context) error {
	return c.authenticate(ctx)
}

// Disconnect drops the cached token. The provider has no logout endpoint;
// tokens simply age out server-side.
func (c *Client) Disconnect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	return nil
}

// IsConnected reports token liveness, not whether Connect was ever called.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != "" && c.clock().Before(c.tokenExpiry.Add(-tokenSkew))
}

func (c *Client) authenticate(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"api_key":    c.cfg.APIKey,
		"api_secret": c.cfg.APISecret,
	})
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/token", bytes.NewReader(body), &resp, false); err != nil {
		return err
	}
	if resp.AccessToken == "" {
		return device.NewError(device.ErrorBadData, device.TypeCloudTSE, "auth response missing access_token", nil)
	}

	expiry, err := tokenExpiry(resp.AccessToken)
	if err != nil {
		return device.NewError(device.ErrorBadData, device.TypeCloudTSE, "cannot read token expiry", err)
	}

	c.mu.Lock()
	c.token = resp.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// signature belongs to the provider, we only need the lifetime.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

// ensureToken refreshes the bearer token when it is missing or near expiry.
func (c *Client) ensureToken(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	return c.authenticate(ctx)
}

type txResponse struct {
	Number    uint64 `json:"number"`
	TimeStart int64  `json:"time_start"`
	TimeEnd   int64  `json:"time_end"`
	Signature struct {
		Value     string `json:"value"`
		Counter   uint64 `json:"counter"`
		Algorithm string `json:"algorithm"`
		PublicKey string `json:"public_key"`
	} `json:"signature"`
	CertificateSerial string `json:"certificate_serial"`
	QRCodeData        string `json:"qr_code_data"`
}

// StartTransaction opens a signing transaction on the TSS.
func (c *Client) StartTransaction(ctx context.Context, req device.StartRequest) (*device.StartResult, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]any{
		"state":        "ACTIVE",
		"process_type": req.ProcessType,
		"process_data": base64.StdEncoding.EncodeToString(req.ProcessData),
		"client_id":    req.ClientID,
	})
	var resp txResponse
	if err := c.doJSON(ctx, http.MethodPost, "/tss/"+c.cfg.TSSID+"/tx", bytes.NewReader(body), &resp, true); err != nil {
		return nil, err
	}

	start := time.Unix(resp.TimeStart, 0).UTC()
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
	if _, ok := c.txs.Get(transactionNumber); !ok {
		return device.NewError(device.ErrorDeviceState, device.TypeCloudTSE,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]any{
		"state":        "ACTIVE",
		"process_data": base64.StdEncoding.EncodeToString(processData),
	})
	path := fmt.Sprintf("/tss/%s/tx/%d", c.cfg.TSSID, transactionNumber)
	if err := c.doJSON(ctx, http.MethodPut, path, bytes.NewReader(body), nil, true); err != nil {
		return err
	}
	c.txs.Update(transactionNumber, processData)
	return nil
}

// FinishTransaction closes the transaction and returns the signature. On a
// transport failure after the provider signed, the context is dropped and the
// signature is reconciled later through SelfTest.
func (c *Client) FinishTransaction(ctx context.Context, transactionNumber uint64, processType string, processData []byte) (*device.TransactionResult, error) {
	open, ok := c.txs.Get(transactionNumber)
	if !ok {
		return nil, device.NewError(device.ErrorDeviceState, device.TypeCloudTSE,
			fmt.Sprintf("transaction %d", transactionNumber), device.ErrUnknownTransaction)
	}
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]any{
		"state":        "FINISHED",
		"process_type": processType,
		"process_data": base64.StdEncoding.EncodeToString(processData),
	})
	path := fmt.Sprintf("/tss/%s/tx/%d", c.cfg.TSSID, transactionNumber)
	var resp txResponse
	err := c.doJSON(ctx, http.MethodPut, path, bytes.NewReader(body), &resp, true)
	c.txs.Remove(transactionNumber)
	if err != nil {
		return nil, err
	}

	return &device.TransactionResult{
		TransactionNumber: resp.Number,
		SignatureCounter:  resp.Signature.Counter,
		Signature:         resp.Signature.Value,
		Algorithm:         resp.Signature.Algorithm,
		PublicKey:         resp.Signature.PublicKey,
		CertificateSerial: resp.CertificateSerial,
		StartTime:         open.StartTime,
		EndTime:           time.Unix(resp.TimeEnd, 0).UTC(),
		QRPayload:         resp.QRCodeData,
	}, nil
}

// SelfTest runs the provider-side self test, which also reports the device's
// own transaction counter for reconciliation.
func (c *Client) SelfTest(ctx context.Context) (*device.SelfTestResult, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Passed bool   `json:"passed"`
		Error  string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/tss/"+c.cfg.TSSID+"/self-test", nil, &resp, true); err != nil {
		return nil, err
	}
	return &device.SelfTestResult{Passed: resp.Passed, Error: resp.Error}, nil
}

// DeviceInfo returns TSS metadata including certificate expiry.
func (c *Client) DeviceInfo(ctx context.Context) (*device.Info, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		SerialNumber        string `json:"serial_number"`
		Firmware            string `json:"firmware"`
		SignatureAlgorithm  string `json:"signature_algorithm"`
		CertificateSerial   string `json:"certificate_serial"`
		CertificateExpiry   int64  `json:"certificate_expiry"`
		RemainingSignatures int64  `json:"remaining_signatures"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/tss/"+c.cfg.TSSID, nil, &resp, true); err != nil {
		return nil, err
	}
	return &device.Info{
		SerialNumber:         resp.SerialNumber,
		FirmwareVersion:      resp.Firmware,
		SignatureAlgorithm:   resp.SignatureAlgorithm,
		CertificateSerial:    resp.CertificateSerial,
		CertificateExpiresAt: time.Unix(resp.CertificateExpiry, 0).UTC(),
		RemainingSignatures:  resp.RemainingSignatures,
	}, nil
}

// ExportAuditData downloads the TAR export for the date range.
func (c *Client) ExportAuditData(ctx context.Context, start, end time.Time) ([]byte, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/tss/%s/export?start=%d&end=%d", c.cfg.TSSID, start.Unix(), end.Unix())
	return c.doRaw(ctx, http.MethodGet, path)
}

// RegisterClient registers a till/client ID with the TSS.
func (c *Client) RegisterClient(ctx context.Context, clientID string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"state": "REGISTERED"})
	return c.doJSON(ctx, http.MethodPut, "/tss/"+c.cfg.TSSID+"/client/"+clientID, bytes.NewReader(body), nil, true)
}

// DeregisterClient removes a till/client ID from the TSS.
func (c *Client) DeregisterClient(ctx context.Context, clientID string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]string{"state": "DEREGISTERED"})
	return c.doJSON(ctx, http.MethodPut, "/tss/"+c.cfg.TSSID+"/client/"+clientID, bytes.NewReader(body), nil, true)
}

// doJSON performs a request and decodes the JSON response into out (out may
// be nil when the body is irrelevant).
func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any, withAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return device.NewError(device.ErrorInternal, device.TypeCloudTSE, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if withAuth {
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.token)
		c.mu.Unlock()
	}

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
		return device.NewError(device.ErrorBadData, device.TypeCloudTSE, "decode response", err)
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, device.NewError(device.ErrorInternal, device.TypeCloudTSE, "build request", err)
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, path)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, device.NewError(device.ErrorBadData, device.TypeCloudTSE, "read export body", err)
	}
	return data, nil
}

func transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.NewError(device.ErrorTimeout, device.TypeCloudTSE, "request timed out", err)
	}
	return device.NewError(device.ErrorProviderOutage, device.TypeCloudTSE, "provider unreachable", err)
}

func statusError(status int, path string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return device.NewError(device.ErrorAuthentication, device.TypeCloudTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	case status == http.StatusNotFound || status == http.StatusConflict:
		return device.NewError(device.ErrorDeviceState, device.TypeCloudTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	case status >= 500:
		return device.NewError(device.ErrorProviderOutage, device.TypeCloudTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	default:
		return device.NewError(device.ErrorInternal, device.TypeCloudTSE,
			fmt.Sprintf("%s returned %d", path, status), nil)
	}
}
