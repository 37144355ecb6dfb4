package fiscal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/device"
	"fiscalhub/internal/platform/metrics"
	"fiscalhub/pkg/fiscalerrors"
)

// AdapterFactory resolves a configured device type to a live adapter. The
// router never branches on provider type.
type AdapterFactory interface {
	Build(deviceType device.Type, settings map[string]string) (device.Adapter, error)
}

// EventSink receives domain events from the router. Implementations must not
// block the signing path; failures are theirs to log.
type EventSink interface {
	TransactionSigned(ctx context.Context, key SiteKey, result *RecordResult)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) TransactionSigned(context.Context, SiteKey, *RecordResult) {}

// Router owns one site's fiscal state machine:
//
//	Unconfigured -> Configured(disabled) -> Configured(enabled, adapter live)
//
// All mutation goes through the router's mutex, reproducing the
// one-logical-owner-per-site guarantee. A signing failure must never crash
// the owner; it is converted into a structured result and LastError.
type Router struct {
	key     SiteKey
	store   ConfigStore
	factory AdapterFactory
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  EventSink

	mu      sync.Mutex
	cfg     *SiteConfig // nil while unconfigured
	adapter device.Adapter
}

// Configure stores the new configuration and transitions the state machine.
// Enabling (re)initializes the adapter; disabling drops it so subsequent
// signing calls fail fast instead of riding a stale connection.
func (r *Router) Configure(ctx context.Context, cmd ConfigureCommand) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := &SiteConfig{
		Key:         r.key,
		CountryCode: cmd.CountryCode,
		Enabled:     cmd.Enabled,
		DeviceType:  cmd.DeviceType,
		Settings:    cmd.Settings,
	}
	if r.cfg != nil {
		cfg.TransactionCount = r.cfg.TransactionCount
		cfg.LastTransactionAt = r.cfg.LastTransactionAt
	}

	if !cmd.Enabled {
		if r.adapter != nil {
			// Best effort; a dead device must not block disabling.
			if err := r.adapter.Disconnect(ctx); err != nil {
				r.logger.Warn("disconnect on disable failed", "site", r.key.String(), "error", err)
			}
		}
		r.adapter = nil
		r.cfg = cfg
		return r.store.Save(ctx, cfg)
	}

	adapter, err := r.factory.Build(cmd.DeviceType, cmd.Settings)
	if err != nil {
		return fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "cannot build device adapter", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		// Keep the configuration; the device may come up later. The
		// failure is visible through LastError and health status.
		cfg.LastError = err.Error()
		r.logger.Warn("device connect failed during configure",
			"site", r.key.String(), "device_type", string(cmd.DeviceType), "error", err)
	} else if st, err := adapter.SelfTest(ctx); err != nil {
		cfg.LastError = err.Error()
	} else if !st.Passed {
		cfg.LastError = "self test failed: " + st.Error
	}

	r.adapter = adapter
	r.cfg = cfg
	return r.store.Save(ctx, cfg)
}

// RecordTransaction signs one completed sale. It never returns an error:
// every failure mode comes back as a structured result so the caller can
// distinguish "site not ready" from "device currently failing".
func (r *Router) RecordTransaction(ctx context.Context, req RecordRequest) *RecordResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg == nil || !r.cfg.Enabled || r.adapter == nil {
		return &RecordResult{
			Success:      false,
			ErrorCode:    string(fiscalerrors.CodeNotConfigured),
			ErrorMessage: "site has no live signing adapter",
		}
	}

	processData, err := json.Marshal(map[string]any{
		"amount":   req.Amount.String(),
		"taxes":    stringAmounts(req.TaxAmounts),
		"payments": stringAmounts(req.PaymentTypes),
	})
	if err != nil {
		return r.failLocked(ctx, "encode process data: "+err.Error())
	}

	processType := req.ProcessType
	if processType == "" {
		processType = "receipt"
	}

	deviceType := string(r.cfg.DeviceType)
	startedAt := time.Now()
	start, err := r.adapter.StartTransaction(ctx, device.StartRequest{
		ProcessType: processType,
		ProcessData: processData,
		ClientID:    req.ClientID,
	})
	r.metrics.ObserveDeviceCall(deviceType, "start_transaction", time.Since(startedAt))
	if err != nil {
		return r.failLocked(ctx, err.Error())
	}

	finishedAt := time.Now()
	result, err := r.adapter.FinishTransaction(ctx, start.TransactionNumber, processType, processData)
	r.metrics.ObserveDeviceCall(deviceType, "finish_transaction", time.Since(finishedAt))
	if err != nil {
		return r.failLocked(ctx, err.Error())
	}

	r.cfg.TransactionCount++
	r.cfg.LastTransactionAt = result.EndTime
	r.cfg.LastError = ""
	if err := r.store.Save(ctx, r.cfg); err != nil {
		// The device signed; losing the counter update is worse than a
		// noisy log but must not fail the sale.
		r.logger.Error("persist counters failed", "site", r.key.String(), "error", err)
	}
	r.metrics.TransactionsSigned.Inc()

	out := &RecordResult{
		Success:           true,
		TransactionNumber: result.TransactionNumber,
		SignatureCounter:  result.SignatureCounter,
		Signature:         result.Signature,
		Algorithm:         result.Algorithm,
		CertificateSerial: result.CertificateSerial,
		QRPayload:         result.QRPayload,
		StartTime:         result.StartTime,
		EndTime:           result.EndTime,
	}
	r.events.TransactionSigned(ctx, r.key, out)
	return out
}

// failLocked records a signing failure on the site state. Caller holds r.mu.
func (r *Router) failLocked(ctx context.Context, msg string) *RecordResult {
	r.cfg.LastError = msg
	if err := r.store.Save(ctx, r.cfg); err != nil {
		r.logger.Error("persist last error failed", "site", r.key.String(), "error", err)
	}
	r.metrics.TransactionsFailed.Inc()
	r.logger.Warn("signing failed", "site", r.key.String(), "error", msg)
	return &RecordResult{
		Success:      false,
		ErrorCode:    string(fiscalerrors.CodeRecordFailed),
		ErrorMessage: msg,
	}
}

// GenerateAuditExport delegates the export to the adapter.
func (r *Router) GenerateAuditExport(ctx context.Context, start, end time.Time) ([]byte, error) {
	if !start.Before(end) {
		return nil, fiscalerrors.New(fiscalerrors.CodeBadRequest, "export start must be before end")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg == nil || !r.cfg.Enabled || r.adapter == nil {
		return nil, fiscalerrors.New(fiscalerrors.CodeNotConfigured, "site has no live signing adapter")
	}
	data, err := r.adapter.ExportAuditData(ctx, start, end)
	if err != nil {
		r.cfg.LastError = err.Error()
		if serr := r.store.Save(ctx, r.cfg); serr != nil {
			r.logger.Error("persist last error failed", "site", r.key.String(), "error", serr)
		}
		return nil, fiscalerrors.Wrap(fiscalerrors.CodeRecordFailed, "audit export failed", err)
	}
	r.cfg.LastError = ""
	if serr := r.store.Save(ctx, r.cfg); serr != nil {
		r.logger.Error("persist state failed", "site", r.key.String(), "error", serr)
	}
	return data, nil
}

// PerformDailyClose signs the close marker for a business date through the
// adapter, finalizing that date with the signing device.
func (r *Router) PerformDailyClose(ctx context.Context, businessDate time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg == nil || !r.cfg.Enabled || r.adapter == nil {
		return fiscalerrors.New(fiscalerrors.CodeNotConfigured, "site has no live signing adapter")
	}

	processData, _ := json.Marshal(map[string]string{
		"business_date": businessDate.Format("2006-01-02"),
	})
	start, err := r.adapter.StartTransaction(ctx, device.StartRequest{
		ProcessType: "daily_close",
		ProcessData: processData,
	})
	if err != nil {
		r.cfg.LastError = err.Error()
		if serr := r.store.Save(ctx, r.cfg); serr != nil {
			r.logger.Error("persist last error failed", "site", r.key.String(), "error", serr)
		}
		return fiscalerrors.Wrap(fiscalerrors.CodeRecordFailed, "daily close failed", err)
	}
	if _, err := r.adapter.FinishTransaction(ctx, start.TransactionNumber, "daily_close", processData); err != nil {
		r.cfg.LastError = err.Error()
		if serr := r.store.Save(ctx, r.cfg); serr != nil {
			r.logger.Error("persist last error failed", "site", r.key.String(), "error", serr)
		}
		return fiscalerrors.Wrap(fiscalerrors.CodeRecordFailed, "daily close failed", err)
	}

	r.cfg.LastError = ""
	if serr := r.store.Save(ctx, r.cfg); serr != nil {
		r.logger.Error("persist state failed", "site", r.key.String(), "error", serr)
	}
	return nil
}

// ValidateConfiguration runs the device self test; pure pass-through.
func (r *Router) ValidateConfiguration(ctx context.Context) error {
	r.mu.Lock()
	adapter := r.adapter
	r.mu.Unlock()

	if adapter == nil {
		return fiscalerrors.New(fiscalerrors.CodeNotConfigured, "site has no live signing adapter")
	}
	st, err := adapter.SelfTest(ctx)
	if err != nil {
		return fiscalerrors.Wrap(fiscalerrors.CodeRecordFailed, "self test failed", err)
	}
	if !st.Passed {
		return fiscalerrors.Newf(fiscalerrors.CodeRecordFailed, "self test failed: %s", st.Error)
	}
	return nil
}

// Config returns a copy of the current configuration, or nil if the site has
// never been configured.
func (r *Router) Config() *SiteConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		return nil
	}
	cp := *r.cfg
	return &cp
}

// GetHealthStatus reports the site's compliance health. An unconfigured site
// gets a well-defined inactive snapshot, never a nil.
func (r *Router) GetHealthStatus(ctx context.Context) HealthStatus {
	r.mu.Lock()
	if r.cfg == nil {
		r.mu.Unlock()
		return HealthStatus{}
	}
	// Copy the counter fields under the lock; RecordTransaction mutates them
	// through the same pointer.
	status := HealthStatus{
		Configured:        true,
		Enabled:           r.cfg.Enabled,
		DeviceType:        r.cfg.DeviceType,
		CountryCode:       r.cfg.CountryCode,
		TransactionCount:  r.cfg.TransactionCount,
		LastTransactionAt: r.cfg.LastTransactionAt,
		LastError:         r.cfg.LastError,
	}
	adapter := r.adapter
	r.mu.Unlock()
	if adapter == nil {
		return status
	}
	status.Connected = adapter.IsConnected()
	if info, err := adapter.DeviceInfo(ctx); err == nil {
		status.CertificateSerial = info.CertificateSerial
		status.CertificateExpiresAt = info.CertificateExpiresAt
	} else {
		r.logger.Warn("device info failed", "site", r.key.String(), "error", err)
	}
	return status
}

// stringAmounts renders decimal breakdowns for the signed process data.
func stringAmounts(in map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.String()
	}
	return out
}
