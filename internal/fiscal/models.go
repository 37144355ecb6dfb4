// Package fiscal routes each site's sales transactions to the compliance
// standard of its country and the signing device configured for it.
package fiscal

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/device"
)

// SiteKey addresses one site's fiscal state. All per-site records are keyed
// by the composite of organization and site identifiers.
type SiteKey struct {
	OrgID  string
	SiteID string
}

func (k SiteKey) String() string {
	return k.OrgID + "/" + k.SiteID
}

// SiteConfig is the durable fiscal configuration of a site. Mutated only
// through Router.Configure, which also (re)initializes the adapter.
type SiteConfig struct {
	Key         SiteKey
	CountryCode string
	Enabled     bool
	DeviceType  device.Type
	// Settings carries country/provider-specific keys (API credentials,
	// host addresses, TSS identifiers).
	Settings map[string]string

	// Counters updated after every signing attempt.
	TransactionCount  uint64
	LastTransactionAt time.Time
	LastError         string

	UpdatedAt time.Time
}

// ConfigureCommand is the operator request that moves a site through the
// Unconfigured -> Configured(disabled) -> Configured(enabled) states.
type ConfigureCommand struct {
	CountryCode string
	Enabled     bool
	DeviceType  device.Type
	Settings    map[string]string
}

// RecordRequest is a completed sale handed over by the order/payment
// pipeline for certification.
type RecordRequest struct {
	Amount       decimal.Decimal
	TaxAmounts   map[string]decimal.Decimal
	PaymentTypes map[string]decimal.Decimal
	ClientID     string
	ProcessType  string
}

// RecordResult reports a signing attempt. Failures come back as a structured
// result (Success=false plus code and message), never as a panic out of the
// site's owner: the site must stay queryable after any adapter failure.
type RecordResult struct {
	Success      bool
	ErrorCode    string
	ErrorMessage string

	TransactionNumber uint64
	SignatureCounter  uint64
	Signature         string
	Algorithm         string
	CertificateSerial string
	QRPayload         string
	StartTime         time.Time
	EndTime           time.Time
}

// HealthStatus is the router's view of the site's compliance health. Always
// well-defined: an unconfigured site reports an inactive snapshot, never nil.
type HealthStatus struct {
	Configured           bool
	Enabled              bool
	Connected            bool
	DeviceType           device.Type
	CountryCode          string
	CertificateSerial    string
	CertificateExpiresAt time.Time
	TransactionCount     uint64
	LastTransactionAt    time.Time
	LastError            string
}
