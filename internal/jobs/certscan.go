package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// scanConcurrency bounds parallel health probes so a large organization does
// not stampede its devices.
const scanConcurrency = 8

// ScanCertificates queries each monitored site's device health and grades
// remaining certificate lifetime. Warnings are transient: recomputed per
// scan, never stored. A failing site is logged and skipped; it cannot block
// the rest of the scan.
func (r *Runner) ScanCertificates(ctx context.Context) ([]CertWarning, error) {
	configs, err := r.configs.ListByOrg(ctx, r.orgID)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		warnings []CertWarning
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	now := r.clock().UTC()
	for _, cfg := range configs {
		if !cfg.CertMonitoringEnabled {
			continue
		}
		cfg := cfg
		g.Go(func() error {
			warning, ok := r.scanSite(ctx, cfg, now)
			if ok {
				mu.Lock()
				warnings = append(warnings, warning)
				mu.Unlock()
			}
			// Per-site failures are already logged; never fail the batch.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(warnings, func(i, j int) bool {
		return warnings[i].DaysRemaining < warnings[j].DaysRemaining
	})
	r.publishGauges(warnings)
	return warnings, nil
}

func (r *Runner) scanSite(ctx context.Context, cfg *SiteJobConfig, now time.Time) (CertWarning, bool) {
	router, err := r.manager.Router(ctx, cfg.Key)
	if err != nil {
		r.logger.Warn("certificate scan: site unavailable", "site", cfg.Key.String(), "error", err)
		return CertWarning{}, false
	}
	health := router.GetHealthStatus(ctx)
	if !health.Configured || !health.Enabled || health.CertificateExpiresAt.IsZero() {
		return CertWarning{}, false
	}

	daysRemaining := int(health.CertificateExpiresAt.Sub(now).Hours() / 24)
	severity, ok := classifySeverity(daysRemaining)
	if !ok {
		return CertWarning{}, false
	}

	threshold := cfg.CertWarningThresholdDays
	if threshold <= 0 {
		threshold = 30
	}
	if daysRemaining > threshold {
		return CertWarning{}, false
	}

	return CertWarning{
		Site:              cfg.Key,
		Severity:          severity,
		DaysRemaining:     daysRemaining,
		CertificateSerial: health.CertificateSerial,
		ExpiresAt:         health.CertificateExpiresAt,
	}, true
}

func (r *Runner) publishGauges(warnings []CertWarning) {
	counts := map[Severity]float64{SeverityCritical: 0, SeverityWarning: 0, SeverityInfo: 0}
	for _, w := range warnings {
		counts[w.Severity]++
	}
	for severity, n := range counts {
		r.metrics.CertWarnings.WithLabelValues(string(severity)).Set(n)
	}
}
