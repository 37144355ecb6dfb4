package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/jobs"
	"fiscalhub/internal/platform/middleware"
	"fiscalhub/internal/zreport"
	"fiscalhub/pkg/fiscalerrors"
)

// Handler is the operator-facing control surface. It delegates to the fiscal
// manager, the job manager, and the report generator without embedding
// business logic, so transport concerns remain isolated.
type Handler struct {
	logger    *slog.Logger
	fiscal    *fiscal.Manager
	jobs      *jobs.Manager
	generator *zreport.Generator
}

// New creates the HTTP handler.
func New(fm *fiscal.Manager, jm *jobs.Manager, generator *zreport.Generator, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		fiscal:    fm,
		jobs:      jm,
		generator: generator,
	}
}

// Register registers all routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(30 * time.Second))
	api.Use(middleware.ContentTypeJSON)

	api.Get("/countries", h.handleCountries)

	api.Route("/orgs/{orgID}", func(org chi.Router) {
		org.Get("/sites", h.handleListSites)
		org.Get("/jobs/history", h.handleJobHistory)
		org.Get("/certificates/warnings", h.handleCertWarnings)

		org.Route("/sites/{siteID}", func(site chi.Router) {
			site.Put("/fiscal/config", h.handleConfigureSite)
			site.Get("/fiscal/config", h.handleGetConfig)
			site.Get("/fiscal/status", h.handleStatus)
			site.Post("/fiscal/validate", h.handleValidate)
			site.Post("/fiscal/transactions", h.handleRecordTransaction)
			site.Post("/fiscal/export", h.handleAuditExport)

			site.Put("/jobs/config", h.handleJobConfig)
			site.Post("/jobs/daily-close", h.handleTriggerDailyClose)
			site.Post("/jobs/archive-export", h.handleTriggerArchiveExport)

			site.Post("/reports", h.handleGenerateReport)
			site.Get("/reports", h.handleReportsByRange)
			site.Get("/reports/latest", h.handleLatestReport)
			site.Get("/reports/{number}", h.handleReportByNumber)
		})
	})

	r.Mount("/", api)
	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
}

func siteKey(r *http.Request) fiscal.SiteKey {
	return fiscal.SiteKey{
		OrgID:  chi.URLParam(r, "orgID"),
		SiteID: chi.URLParam(r, "siteID"),
	}
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleCountries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fiscal.SupportedCountries())
}

func (h *Handler) handleConfigureSite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req configureSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}

	router, err := h.fiscal.Router(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := router.Configure(ctx, req.toCommand()); err != nil {
		h.logger.WarnContext(ctx, "configure failed",
			"request_id", middleware.GetRequestID(ctx),
			"site", siteKey(r).String(),
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, router.Config())
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	router, err := h.fiscal.Router(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	cfg := router.Config()
	if cfg == nil {
		writeError(w, fiscalerrors.Newf(fiscalerrors.CodeNotFound,
			"site %s has no fiscal configuration", siteKey(r)))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	router, err := h.fiscal.Router(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, router.GetHealthStatus(ctx))
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	router, err := h.fiscal.Router(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := router.ValidateConfiguration(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "valid"})
}

// handleRecordTransaction signs one transaction. Failures to sign are part of
// the response contract, not transport errors: the caller always gets a 200
// with a structured outcome so the sale can proceed and be flagged.
func (h *Handler) handleRecordTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req recordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}

	router, err := h.fiscal.Router(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	result := router.RecordTransaction(ctx, fiscal.RecordRequest{
		Amount:       req.Amount,
		TaxAmounts:   req.TaxAmounts,
		PaymentTypes: req.PaymentTypes,
		ClientID:     req.ClientID,
		ProcessType:  req.ProcessType,
	})
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}
	start, end, err := req.parse()
	if err != nil {
		writeError(w, fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid date range", err))
		return
	}

	router, err := h.fiscal.Router(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := router.GenerateAuditExport(ctx, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleListSites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sites, err := h.fiscal.Sites(ctx, chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sites)
}

func (h *Handler) handleJobConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req jobConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}

	key := siteKey(r)
	cfg := req.toConfig(key)
	if err := h.jobs.Runner(key.OrgID).ConfigureSite(ctx, cfg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) handleTriggerDailyClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}
	businessDate, err := req.parse()
	if err != nil {
		writeError(w, fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid business date", err))
		return
	}

	key := siteKey(r)
	if err := h.jobs.Runner(key.OrgID).TriggerDailyClose(ctx, key, businessDate); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        "completed",
		"business_date": businessDate.Format("2006-01-02"),
	})
}

func (h *Handler) handleTriggerArchiveExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req rangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}
	start, end, err := req.parse()
	if err != nil {
		writeError(w, fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid date range", err))
		return
	}

	key := siteKey(r)
	data, err := h.jobs.Runner(key.OrgID).TriggerArchiveExport(ctx, key, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "orgID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.jobs.Runner(orgID).JobHistory(ctx, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCertWarnings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "orgID")
	warnings, err := h.jobs.Runner(orgID).ScanCertificates(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, warnings)
}

func (h *Handler) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req dateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid request body"))
		return
	}
	businessDate, err := req.parse()
	if err != nil {
		writeError(w, fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid business date", err))
		return
	}

	report, err := h.generator.Generate(ctx, siteKey(r), businessDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *Handler) handleReportsByRange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := rangeRequest{
		Start: r.URL.Query().Get("start"),
		End:   r.URL.Query().Get("end"),
	}
	start, end, err := req.parse()
	if err != nil {
		writeError(w, fiscalerrors.Wrap(fiscalerrors.CodeBadRequest, "invalid date range", err))
		return
	}

	reports, err := h.generator.ByDateRange(ctx, siteKey(r), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) handleLatestReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := h.generator.Latest(ctx, siteKey(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		writeError(w, fiscalerrors.New(fiscalerrors.CodeBadRequest, "invalid report number"))
		return
	}

	report, err := h.generator.ByNumber(ctx, siteKey(r), number)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
