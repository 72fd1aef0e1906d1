package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/analyzer"
	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/export"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/recognizer"
)

const emailText = "Contact: ahmet@bank.com"

func newEngine(t *testing.T) *analyzer.Analyzer {
	t.Helper()
	local := recognizer.NewLocalSource(privacy.NewDetector(privacy.MustDefaultLibrary(), logger.NewNop()))
	a, err := analyzer.New(analyzer.Config{}, logger.NewNop(), local)
	require.NoError(t, err)
	return a
}

type fakeAudit struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (f *fakeAudit) Save(_ context.Context, rec *audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) Recent(_ context.Context, limit int) ([]audit.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]audit.Record, 0, limit)
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *f.records[i])
	}
	return out, nil
}

func (f *fakeAudit) Stats(context.Context) (*audit.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &audit.Stats{Total: int64(len(f.records)), Low: int64(len(f.records))}, f.err
}

func (f *fakeAudit) saved() []*audit.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*audit.Record(nil), f.records...)
}

// failingAnalyzer returns err from every analysis.
type failingAnalyzer struct {
	*analyzer.Analyzer
	err error
}

func (f failingAnalyzer) Analyze(context.Context, string) (*privacy.Analysis, error) {
	return nil, f.err
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts Options) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	opts.Config = cfg
	if opts.Analyzer == nil {
		opts.Analyzer = newEngine(t)
	}
	if opts.Rules == nil {
		opts.Rules = privacy.MustDefaultLibrary().Rules()
	}
	s, err := New(opts, logger.NewNop())
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestNewRequiresAnalyzer(t *testing.T) {
	_, err := New(Options{Config: config.GetDefaults()}, logger.NewNop())
	assert.Error(t, err)
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = do(s, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info map[string]any
	decodeBody(t, rec, &info)
	assert.Equal(t, "pii-sentinel", info["name"])
	assert.Equal(t, "tr", info["locale"])
	assert.Equal(t, []any{"local"}, info["sources"])
	assert.Equal(t, float64(len(privacy.MustDefaultLibrary().Rules())), info["rules_count"])
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+emailText+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
	assert.NoError(t, err)

	var a privacy.Analysis
	decodeBody(t, rec, &a)
	assert.Equal(t, 12, a.RiskScore)
	assert.Equal(t, privacy.RiskLow, a.RiskLevel)
	require.Len(t, a.Findings, 1)
	assert.Equal(t, privacy.CategoryEmail, a.Findings[0].Category)
	assert.Equal(t, "ahmet@bank.com", a.Findings[0].Value)
	assert.Equal(t, 1, a.DistinctCategories)
}

func TestAnalyzeBlankText(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(s, http.MethodPost, "/api/v1/analyze", `{"text":"   "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var a privacy.Analysis
	decodeBody(t, rec, &a)
	assert.Equal(t, 0, a.RiskScore)
	assert.Empty(t, a.Findings)
}

func TestAnalyzeKeepsValidRequestID(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\nX-Injected: 1")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.NotEqual(t, "not-a-uuid\nX-Injected: 1", rec.Header().Get(RequestIDHeader))
}

func TestAnalyzeUsesCacheAndAudit(t *testing.T) {
	tokens, _ := privacy.Tokens("tr")
	c := cache.New(cache.NewMemoryStore(16), cache.Config{}, tokens, logger.NewNop())
	sink := &fakeAudit{}
	s := newTestServer(t, nil, Options{Cache: c, Audit: sink})

	body := `{"text":"` + emailText + `","session_id":"scan-1"}`
	first := do(s, http.MethodPost, "/api/v1/analyze", body)
	second := do(s, http.MethodPost, "/api/v1/analyze", body)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	records := sink.saved()
	require.Len(t, records, 2)
	assert.Equal(t, "scan-1", records[0].SessionID)
	assert.Equal(t, 12, records[0].RiskScore)
	assert.Equal(t, audit.Counts{"Email": 1}, records[0].CategoryCounts)
	assert.Equal(t, int64(2), s.totalAnalyses.Load())
}

func TestAnalyzeAuditFailureIsNotFatal(t *testing.T) {
	s := newTestServer(t, nil, Options{Audit: &fakeAudit{err: errors.New("db down")}})

	rec := do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+emailText+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"source timeout", &analyzer.SourceError{Source: "remote", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"analysis timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"source down", &analyzer.SourceError{Source: "remote", Err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"source canceled", &analyzer.SourceError{Source: "remote", Err: context.Canceled}, 499},
		{"canceled", context.Canceled, 499},
		{"internal", privacy.ErrInvalidSpan, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, Options{Analyzer: failingAnalyzer{newEngine(t), tt.err}})

			rec := do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+emailText+`"}`)
			assert.Equal(t, tt.status, rec.Code)

			var body errorResponse
			decodeBody(t, rec, &body)
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, rec.Header().Get(RequestIDHeader), body.RequestID)
		})
	}
}

func TestRequestBodyErrors(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 32 }, Options{})

	rec := do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(s, http.MethodPost, "/api/v1/analyze", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, "/api/v1/analyze", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMask(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+emailText+`"}`)
	var a privacy.Analysis
	decodeBody(t, rec, &a)
	require.Len(t, a.Findings, 1)

	findings, err := json.Marshal(a.Findings)
	require.NoError(t, err)

	rec = do(s, http.MethodPost, "/api/v1/mask",
		`{"text":"`+emailText+`","findings":`+string(findings)+`,"ids":["`+a.Findings[0].ID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var masked MaskResponse
	decodeBody(t, rec, &masked)
	assert.Equal(t, "Contact: [E-posta]", masked.MaskedText)

	rec = do(s, http.MethodPost, "/api/v1/mask",
		`{"text":"`+emailText+`","findings":`+string(findings)+`,"ids":[]}`)
	decodeBody(t, rec, &masked)
	assert.Equal(t, emailText, masked.MaskedText)
}

func TestExport(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(s, http.MethodPost, "/api/v1/export", `{"text":"`+emailText+`","session_id":"scan/1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="pii-analysis-scan1.json"`, rec.Header().Get("Content-Disposition"))

	var doc export.Document
	decodeBody(t, rec, &doc)
	assert.Equal(t, "scan/1", doc.SessionID)
	assert.Equal(t, "tr", doc.Locale)
	assert.Equal(t, "Contact: [E-posta]", doc.MaskedText)
	assert.Len(t, doc.Findings, 1)

	rec = do(s, http.MethodPost, "/api/v1/export", `{"text":"`+emailText+`","locale":"en"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &doc)
	assert.Equal(t, "en", doc.Locale)
	assert.Equal(t, "Contact: [Email]", doc.MaskedText)

	assert.Equal(t, http.StatusBadRequest,
		do(s, http.MethodPost, "/api/v1/export", `{"text":"`+emailText+`","locale":"de"}`).Code)

	rec = do(s, http.MethodPost, "/api/v1/export", `{"text":"`+emailText+`","mask_ids":[]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &doc)
	assert.Equal(t, emailText, doc.MaskedText)
	assert.Equal(t, `attachment; filename="pii-analysis.json"`, rec.Header().Get("Content-Disposition"))
}

func TestRules(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(s, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Rules []RuleInfo `json:"rules"`
		Count int        `json:"count"`
	}
	decodeBody(t, rec, &body)
	assert.Equal(t, len(privacy.MustDefaultLibrary().Rules()), body.Count)
	assert.Len(t, body.Rules, body.Count)
	for _, r := range body.Rules {
		assert.NotEmpty(t, r.ID)
		assert.True(t, r.Category.Valid(), r.ID)
	}
}

func TestAuditEndpoints(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/audit", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/api/v1/audit/stats", "").Code)

	sink := &fakeAudit{}
	s = newTestServer(t, nil, Options{Audit: sink})
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+emailText+`"}`).Code)
	}

	rec := do(s, http.MethodGet, "/api/v1/audit?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recent struct {
		Records []audit.Record `json:"records"`
		Count   int            `json:"count"`
	}
	decodeBody(t, rec, &recent)
	assert.Equal(t, 2, recent.Count)
	assert.NotContains(t, rec.Body.String(), "ahmet@bank.com")

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/api/v1/audit?limit=abc", "").Code)

	rec = do(s, http.MethodGet, "/api/v1/audit/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats audit.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(3), stats.Total)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerMinute = 1
		c.RateLimit.Burst = 1
	}, Options{})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/rules", "").Code)

	rec := do(s, http.MethodGet, "/api/v1/rules", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health checks are not rate limited.
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", "").Code)
}

func TestApplyConfigReloadsRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerMinute = 1
		c.RateLimit.Burst = 1
	}, Options{})

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/rules", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/api/v1/rules", "").Code)

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false
	s.ApplyConfig(cfg)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/rules", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	require.Equal(t, http.StatusOK, do(s, http.MethodPost, "/api/v1/analyze", `{"text":"`+emailText+`"}`).Code)

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pii_sentinel_analyses_total{risk_level="low"} 1`)
	assert.Contains(t, body, `pii_sentinel_findings_total{category="Email"} 1`)
	assert.Contains(t, body, `pii_sentinel_http_requests_total{method="POST",route="/api/v1/analyze",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAnalysisIsBroadcast(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startBackground(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.GetWebSocketHub().ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/v1/analyze", "application/json",
		strings.NewReader(`{"text":"`+emailText+`","session_id":"scan-1"}`))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var ev struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type != "analysis_completed" {
			continue
		}
		assert.NotContains(t, string(ev.Data), "ahmet@bank.com")
		var data map[string]any
		require.NoError(t, json.Unmarshal(ev.Data, &data))
		assert.Equal(t, "scan-1", data["session_id"])
		assert.Equal(t, float64(12), data["risk_score"])
		return
	}
}
