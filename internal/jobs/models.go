// Package jobs drives the scheduled compliance work of an organization:
// daily closes and archive exports on a per-site local-time schedule, and a
// frequent certificate-expiry scan. Timers are durable: the next firing
// survives a process restart.
package jobs

import (
	"time"

	"fiscalhub/internal/fiscal"
)

// JobType names a class of scheduled/manual compliance work.
type JobType string

const (
	JobDailyClose      JobType = "daily_close"
	JobArchiveExport   JobType = "archive_export"
	JobCertificateScan JobType = "certificate_scan"
)

// SiteJobConfig holds one site's schedule inside the runner. Times are local
// wall-clock strings ("21:30"); Timezone converts the runner's UTC clock to
// site-local time.
type SiteJobConfig struct {
	Key fiscal.SiteKey

	DailyCloseEnabled bool
	DailyCloseAt      string

	ArchiveEnabled bool
	ArchiveAt      string

	Timezone string

	CertMonitoringEnabled bool
	// CertWarningThresholdDays filters the scan output: only warnings at or
	// below this many remaining days surface for the site.
	CertWarningThresholdDays int

	UpdatedAt time.Time
}

// HistoryEntry is append-only and immutable once the completion fields are
// set. Total history per organization is capped; oldest entries are evicted.
// Long-term audit data belongs in the external registry, not here.
type HistoryEntry struct {
	ID          string
	JobType     JobType
	Site        fiscal.SiteKey
	StartedAt   time.Time
	CompletedAt time.Time
	Success     bool
	Error       string
	Metadata    map[string]string
}

// Severity grades a certificate expiry warning.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// CertWarning is transient, recomputed on every scan, never persisted.
type CertWarning struct {
	Site              fiscal.SiteKey
	Severity          Severity
	DaysRemaining     int
	CertificateSerial string
	ExpiresAt         time.Time
}

// classifySeverity maps remaining days to a severity; ok=false means the
// certificate is far enough out that no warning applies.
func classifySeverity(daysRemaining int) (Severity, bool) {
	switch {
	case daysRemaining <= 7:
		return SeverityCritical, true
	case daysRemaining <= 30:
		return SeverityWarning, true
	case daysRemaining <= 60:
		return SeverityInfo, true
	default:
		return "", false
	}
}
