// Package device defines the uniform contract every external signing
// provider implements. The compliance router talks to this interface only;
// transport, authentication, and payload shape stay inside each
// implementation.
package device

import (
	"context"
	"time"
)

// Type identifies a concrete adapter implementation.
type Type string

const (
	// TypeCloudTSE is the primary cloud-hosted signing service (bearer
	// token with expiry-based refresh).
	TypeCloudTSE Type = "cloud_tse"

	// TypeSignAPI is the second cloud provider, with an opaque session
	// token whose lifetime comes from the token response.
	TypeSignAPI Type = "sign_api"

	// TypeLANHSM is a hardware signing module on the local network that
	// requires an established session before any operation.
	TypeLANHSM Type = "lan_hsm"

	// TypeUSBTSE is a USB-attached device reached through a local daemon.
	TypeUSBTSE Type = "usb_tse"
)

// StartRequest begins a signing transaction on the device.
type StartRequest struct {
	ProcessType string
	ProcessData []byte
	ClientID    string
}

// StartResult is the device's acknowledgement of a started transaction.
type StartResult struct {
	TransactionNumber uint64
	StartTime         time.Time
}

// TransactionResult is immutable once produced by FinishTransaction.
type TransactionResult struct {
	TransactionNumber uint64
	SignatureCounter  uint64
	Signature         string
	Algorithm         string
	PublicKey         string
	CertificateSerial string
	StartTime         time.Time
	EndTime           time.Time

	// QRPayload renders the data a receipt needs for the verification code.
	QRPayload string
}

// SelfTestResult reports the outcome of a device self test.
type SelfTestResult struct {
	Passed bool
	Error  string
}

// Info describes the device and its signing certificate. Certificate expiry
// feeds the scheduled expiry scan.
type Info struct {
	SerialNumber         string
	FirmwareVersion      string
	SignatureAlgorithm   string
	CertificateSerial    string
	CertificateExpiresAt time.Time
	RemainingSignatures  int64
}

//go:generate mockgen -source=device.go -destination=mocks/mocks.go -package=mocks Adapter

// Adapter is the capability contract every external signing provider
// implements.
//
// IsConnected must reflect token/session liveness, not merely "Connect was
// called": callers treat false as a retryable precondition, never a hard
// error. FinishTransaction is not idempotent from the caller's viewpoint:
// if the network fails after the device signed, a blind retry may
// double-count. That risk is accepted and reconciled via SelfTest, not
// hidden behind a false exactly-once guarantee.
type Adapter interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	StartTransaction(ctx context.Context, req StartRequest) (*StartResult, error)
	UpdateTransaction(ctx context.Context, transactionNumber uint64, processData []byte) error
	FinishTransaction(ctx context.Context, transactionNumber uint64, processType string, processData []byte) (*TransactionResult, error)

	SelfTest(ctx context.Context) (*SelfTestResult, error)
	DeviceInfo(ctx context.Context) (*Info, error)
	ExportAuditData(ctx context.Context, start, end time.Time) ([]byte, error)

	RegisterClient(ctx context.Context, clientID string) error
	DeregisterClient(ctx context.Context, clientID string) error
}
