package httptransport

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/device"
	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/jobs"
)

// configureSiteRequest mirrors fiscal.ConfigureCommand on the wire.
type configureSiteRequest struct {
	CountryCode string            `json:"country_code"`
	Enabled     bool              `json:"enabled"`
	DeviceType  string            `json:"device_type"`
	Settings    map[string]string `json:"settings"`
}

func (r configureSiteRequest) toCommand() fiscal.ConfigureCommand {
	return fiscal.ConfigureCommand{
		CountryCode: r.CountryCode,
		Enabled:     r.Enabled,
		DeviceType:  device.Type(r.DeviceType),
		Settings:    r.Settings,
	}
}

// recordTransactionRequest is the order pipeline's signing request.
type recordTransactionRequest struct {
	Amount       decimal.Decimal            `json:"amount"`
	TaxAmounts   map[string]decimal.Decimal `json:"tax_amounts"`
	PaymentTypes map[string]decimal.Decimal `json:"payment_types"`
	ClientID     string                     `json:"client_id"`
	ProcessType  string                     `json:"process_type"`
}

// jobConfigRequest mirrors jobs.SiteJobConfig on the wire.
type jobConfigRequest struct {
	DailyCloseEnabled        bool   `json:"daily_close_enabled"`
	DailyCloseAt             string `json:"daily_close_at"`
	ArchiveEnabled           bool   `json:"archive_enabled"`
	ArchiveAt                string `json:"archive_at"`
	Timezone                 string `json:"timezone"`
	CertMonitoringEnabled    bool   `json:"cert_monitoring_enabled"`
	CertWarningThresholdDays int    `json:"cert_warning_threshold_days"`
}

func (r jobConfigRequest) toConfig(key fiscal.SiteKey) *jobs.SiteJobConfig {
	return &jobs.SiteJobConfig{
		Key:                      key,
		DailyCloseEnabled:        r.DailyCloseEnabled,
		DailyCloseAt:             r.DailyCloseAt,
		ArchiveEnabled:           r.ArchiveEnabled,
		ArchiveAt:                r.ArchiveAt,
		Timezone:                 r.Timezone,
		CertMonitoringEnabled:    r.CertMonitoringEnabled,
		CertWarningThresholdDays: r.CertWarningThresholdDays,
	}
}

// dateRequest carries a single business date.
type dateRequest struct {
	BusinessDate string `json:"business_date"`
}

func (r dateRequest) parse() (time.Time, error) {
	return time.Parse("2006-01-02", r.BusinessDate)
}

// rangeRequest carries an inclusive start / exclusive end date range.
type rangeRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (r rangeRequest) parse() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", r.Start)
	if err != nil {
		return
	}
	end, err = time.Parse("2006-01-02", r.End)
	return
}
