package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"fiscalhub/internal/device"
	"fiscalhub/internal/device/mocks"
	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/jobs"
	"fiscalhub/internal/ledger"
	"fiscalhub/internal/platform/metrics"
	"fiscalhub/internal/zreport"
)

type stubFactory struct {
	adapter device.Adapter
}

func (f *stubFactory) Build(device.Type, map[string]string) (device.Adapter, error) {
	return f.adapter, nil
}

type HandlerSuite struct {
	suite.Suite

	ctrl    *gomock.Controller
	adapter *mocks.MockAdapter
	ledger  *ledger.InMemoryRegistry
	server  *httptest.Server
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.adapter = mocks.NewMockAdapter(s.ctrl)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewWith(prometheus.NewRegistry())

	fm := fiscal.NewManager(fiscal.NewInMemoryConfigStore(), &stubFactory{adapter: s.adapter}, logger, m, nil)

	s.ledger = ledger.NewInMemoryRegistry()
	generator := zreport.NewGenerator(s.ledger, zreport.NewInMemoryStore(), logger, m)

	jm := jobs.NewManager(context.Background(), fm, generator,
		jobs.NewInMemoryConfigStore(),
		jobs.NewInMemoryRunRecorder(),
		jobs.NewInMemoryHistoryStore(),
		jobs.NewInMemoryScheduleStore(),
		logger, m,
	)

	r := chi.NewRouter()
	New(fm, jm, generator, logger).Register(r)
	s.server = httptest.NewServer(r)
}

func (s *HandlerSuite) TearDownTest() {
	s.server.Close()
	s.ctrl.Finish()
}

func (s *HandlerSuite) do(method, path string, body any) *http.Response {
	s.T().Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *HandlerSuite) decode(resp *http.Response, out any) {
	s.T().Helper()
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(out))
}

func (s *HandlerSuite) errorCode(resp *http.Response) string {
	s.T().Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	s.decode(resp, &envelope)
	return envelope.Error
}

// enableSite configures org-1/site-1 with a healthy mocked device.
func (s *HandlerSuite) enableSite() {
	s.adapter.EXPECT().Connect(gomock.Any()).Return(nil)
	s.adapter.EXPECT().SelfTest(gomock.Any()).Return(&device.SelfTestResult{Passed: true}, nil)

	resp := s.do(http.MethodPut, "/orgs/org-1/sites/site-1/fiscal/config", map[string]any{
		"country_code": "DE",
		"enabled":      true,
		"device_type":  "cloud_tse",
		"settings":     map[string]string{"api_url": "https://tss.example.com"},
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestHealthz() {
	resp := s.do(http.MethodGet, "/healthz", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	var body map[string]string
	s.decode(resp, &body)
	s.Equal("ok", body["status"])
}

func (s *HandlerSuite) TestCountries() {
	resp := s.do(http.MethodGet, "/countries", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	var countries []fiscal.CountryStandard
	s.decode(resp, &countries)
	codes := make([]string, 0, len(countries))
	for _, c := range countries {
		codes = append(codes, c.Code)
	}
	s.Contains(codes, "DE")
	s.Contains(codes, "AT")
	s.Contains(codes, "FR")
}

func (s *HandlerSuite) TestConfigureRejectsUnsupportedCountry() {
	resp := s.do(http.MethodPut, "/orgs/org-1/sites/site-1/fiscal/config", map[string]any{
		"country_code": "ES",
		"enabled":      true,
		"device_type":  "cloud_tse",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("UNSUPPORTED_COUNTRY", s.errorCode(resp))
}

func (s *HandlerSuite) TestConfigureAndReadBack() {
	s.enableSite()

	resp := s.do(http.MethodGet, "/orgs/org-1/sites/site-1/fiscal/config", nil)
	s.Equal(http.StatusOK, resp.StatusCode)

	var cfg fiscal.SiteConfig
	s.decode(resp, &cfg)
	s.Equal("DE", cfg.CountryCode)
	s.True(cfg.Enabled)
	s.Equal(device.TypeCloudTSE, cfg.DeviceType)

	resp = s.do(http.MethodGet, "/orgs/org-1/sites", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	var sites []fiscal.SiteKey
	s.decode(resp, &sites)
	s.Require().Len(sites, 1)
	s.Equal("site-1", sites[0].SiteID)
}

func (s *HandlerSuite) TestGetConfigForUnknownSite() {
	resp := s.do(http.MethodGet, "/orgs/org-1/sites/ghost/fiscal/config", nil)
	s.Equal(http.StatusNotFound, resp.StatusCode)
	s.Equal("NOT_FOUND", s.errorCode(resp))
}

func (s *HandlerSuite) TestRecordTransaction() {
	s.Run("unconfigured site reports structured failure", func() {
		resp := s.do(http.MethodPost, "/orgs/org-1/sites/site-1/fiscal/transactions", map[string]any{
			"amount":    "11.00",
			"client_id": "till-1",
		})
		s.Equal(http.StatusOK, resp.StatusCode)

		var result fiscal.RecordResult
		s.decode(resp, &result)
		s.False(result.Success)
		s.Equal("NOT_CONFIGURED", result.ErrorCode)
	})

	s.Run("configured site signs", func() {
		s.enableSite()
		start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		s.adapter.EXPECT().StartTransaction(gomock.Any(), gomock.Any()).
			Return(&device.StartResult{TransactionNumber: 7, StartTime: start}, nil)
		s.adapter.EXPECT().FinishTransaction(gomock.Any(), uint64(7), gomock.Any(), gomock.Any()).
			Return(&device.TransactionResult{
				TransactionNumber: 7,
				SignatureCounter:  3,
				Signature:         "sig",
				StartTime:         start,
				EndTime:           start.Add(time.Second),
			}, nil)

		resp := s.do(http.MethodPost, "/orgs/org-1/sites/site-1/fiscal/transactions", map[string]any{
			"amount":        "11.00",
			"tax_amounts":   map[string]string{"19%": "1.76"},
			"payment_types": map[string]string{"cash": "11.00"},
			"client_id":     "till-1",
		})
		s.Equal(http.StatusOK, resp.StatusCode)

		var result fiscal.RecordResult
		s.decode(resp, &result)
		s.True(result.Success)
		s.Equal(uint64(7), result.TransactionNumber)
		s.Equal("sig", result.Signature)
	})
}

func (s *HandlerSuite) TestMalformedBody() {
	req, err := http.NewRequest(http.MethodPut,
		s.server.URL+"/orgs/org-1/sites/site-1/fiscal/config", bytes.NewBufferString("{nope"))
	s.Require().NoError(err)
	resp, err := s.server.Client().Do(req)
	s.Require().NoError(err)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("BAD_REQUEST", s.errorCode(resp))
}

func (s *HandlerSuite) TestJobConfigValidation() {
	resp := s.do(http.MethodPut, "/orgs/org-1/sites/site-1/jobs/config", map[string]any{
		"daily_close_enabled": true,
		"daily_close_at":      "21:30",
		"timezone":            "Mars/Olympus",
	})
	s.Equal(http.StatusBadRequest, resp.StatusCode)
	s.Equal("BAD_REQUEST", s.errorCode(resp))

	resp = s.do(http.MethodPut, "/orgs/org-1/sites/site-1/jobs/config", map[string]any{
		"daily_close_enabled": true,
		"daily_close_at":      "21:30",
		"timezone":            "Europe/Berlin",
	})
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *HandlerSuite) TestReportLifecycle() {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	s.ledger.Record(&ledger.Transaction{
		ID:          "tx-1",
		Site:        "org-1/site-1",
		Type:        ledger.TypeSale,
		GrossAmount: decimal.RequireFromString("11.00"),
		TaxAmounts:  map[string]decimal.Decimal{"10%": decimal.RequireFromString("1.00")},
		NetAmounts:  map[string]decimal.Decimal{"10%": decimal.RequireFromString("10.00")},
		RecordedAt:  day.Add(10 * time.Hour),
	})

	s.Run("generate", func() {
		resp := s.do(http.MethodPost, "/orgs/org-1/sites/site-1/reports", map[string]string{
			"business_date": "2026-03-14",
		})
		s.Equal(http.StatusCreated, resp.StatusCode)

		var report zreport.Report
		s.decode(resp, &report)
		s.Equal(uint64(1), report.ReportNumber)
		s.True(report.GrossSales.Equal(decimal.RequireFromString("11.00")))
	})

	s.Run("duplicate date conflicts", func() {
		resp := s.do(http.MethodPost, "/orgs/org-1/sites/site-1/reports", map[string]string{
			"business_date": "2026-03-14",
		})
		s.Equal(http.StatusConflict, resp.StatusCode)
		s.Equal("ALREADY_EXISTS", s.errorCode(resp))
	})

	s.Run("by number", func() {
		resp := s.do(http.MethodGet, "/orgs/org-1/sites/site-1/reports/1", nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		var report zreport.Report
		s.decode(resp, &report)
		s.Equal(uint64(1), report.ReportNumber)
	})

	s.Run("latest", func() {
		resp := s.do(http.MethodGet, "/orgs/org-1/sites/site-1/reports/latest", nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		var report zreport.Report
		s.decode(resp, &report)
		s.Equal(uint64(1), report.ReportNumber)
	})

	s.Run("range", func() {
		resp := s.do(http.MethodGet,
			"/orgs/org-1/sites/site-1/reports?start=2026-03-13&end=2026-03-15", nil)
		s.Equal(http.StatusOK, resp.StatusCode)
		var reports []*zreport.Report
		s.decode(resp, &reports)
		s.Len(reports, 1)
	})

	s.Run("missing number", func() {
		resp := s.do(http.MethodGet, "/orgs/org-1/sites/site-1/reports/99", nil)
		s.Equal(http.StatusNotFound, resp.StatusCode)
		s.Equal("NOT_FOUND", s.errorCode(resp))
	})
}

func (s *HandlerSuite) TestJobHistoryEmpty() {
	resp := s.do(http.MethodGet, "/orgs/org-1/jobs/history?limit=5", nil)
	s.Equal(http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	s.Require().NoError(err)
	s.Contains([]string{"null\n", "[]\n"}, string(raw))
}
