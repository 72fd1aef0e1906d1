package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/analyzer"
	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/export"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AnalyzeRequest is the body of POST /api/v1/analyze.
type AnalyzeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// MaskRequest re-renders text with a chosen subset of findings masked.
type MaskRequest struct {
	Text     string            `json:"text"`
	Findings []privacy.Finding `json:"findings"`
	IDs      []string          `json:"ids"`
}

// MaskResponse is the body returned by POST /api/v1/mask.
type MaskResponse struct {
	MaskedText string `json:"masked_text"`
}

// ExportRequest analyzes text and returns the result as a downloadable
// document. A nil MaskIDs masks every finding. Locale defaults to the
// analyzer's.
type ExportRequest struct {
	Text      string    `json:"text"`
	SessionID string    `json:"session_id,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	MaskIDs   *[]string `json:"mask_ids,omitempty"`
}

// RuleInfo describes one active pattern rule.
type RuleInfo struct {
	ID             string           `json:"id"`
	Category       privacy.Category `json:"category"`
	SeverityWeight uint             `json:"severity_weight"`
	Score          float64          `json:"score"`
	Description    string           `json:"description"`
	Validator      string           `json:"validator,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":          "pii-sentinel",
		"version":       Version,
		"locale":        s.analyzer.Locale(),
		"sources":       s.analyzer.Sources(),
		"rules_count":   len(s.rules),
		"cache_enabled": s.cache != nil,
		"audit_enabled": s.audit != nil,
		"status":        s.systemStatus(),
	}
	if s.cache != nil {
		info["cache"] = s.cache.Stats()
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !s.decode(w, r, &req) {
		return
	}

	a, cached, ok := s.analyze(w, r, req.Text, req.SessionID)
	if !ok {
		return
	}

	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	s.writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req MaskRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.writeJSON(w, http.StatusOK, MaskResponse{
		MaskedText: s.analyzer.Mask(req.Text, req.Findings, privacy.NewIDSet(req.IDs...)),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !s.decode(w, r, &req) {
		return
	}

	locale := req.Locale
	if locale == "" {
		locale = s.analyzer.Locale()
	}
	tokens, ok := privacy.Tokens(locale)
	if !ok {
		s.writeError(w, r, http.StatusBadRequest,
			fmt.Sprintf("unsupported locale %q (supported: %s)", locale, strings.Join(privacy.Locales(), ", ")))
		return
	}

	a, _, ok := s.analyze(w, r, req.Text, req.SessionID)
	if !ok {
		return
	}

	ids := privacy.AllIDs(a.Findings)
	if req.MaskIDs != nil {
		ids = privacy.NewIDSet(*req.MaskIDs...)
	}
	doc := export.New(req.SessionID, locale, a, privacy.MaskWith(tokens, req.Text, a.Findings, ids), time.Now())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName()))
	w.WriteHeader(http.StatusOK)
	if err := doc.Write(w); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Warn("Failed to write export", zap.Error(err))
	}
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := make([]RuleInfo, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, RuleInfo{
			ID:             rule.ID,
			Category:       rule.Category,
			SeverityWeight: rule.SeverityWeight,
			Score:          rule.Score,
			Description:    rule.Description,
			Validator:      rule.ValidatorName,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

func (s *Server) handleAuditRecent(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, http.StatusNotFound, "audit trail is disabled")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	records, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to read audit trail", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeError(w, r, http.StatusNotFound, "audit trail is disabled")
		return
	}

	stats, err := s.audit.Stats(r.Context())
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to read audit stats", zap.Error(err))
		s.writeError(w, r, http.StatusInternalServerError, "failed to read audit stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// analyze runs one analysis through the cache and publishes its side
// effects. On failure it writes the error response and returns ok=false.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request, text, sessionID string) (*privacy.Analysis, bool, bool) {
	ctx := r.Context()
	requestID := getRequestID(ctx)
	log := s.logger.WithRequestID(requestID)
	if sessionID != "" {
		log = log.WithSession(sessionID)
	}

	start := time.Now()
	var (
		a      *privacy.Analysis
		cached bool
		err    error
	)
	if s.cache != nil {
		a, cached, err = s.cache.GetOrCompute(ctx, text, func(ctx context.Context) (*privacy.Analysis, error) {
			return s.analyzer.Analyze(ctx, text)
		})
	} else {
		a, err = s.analyzer.Analyze(ctx, text)
	}
	elapsed := time.Since(start)

	if err != nil {
		status, reason := analysisErrorStatus(err)
		s.metrics.failures.WithLabelValues(reason).Inc()
		log.Warn("Analysis failed", zap.String("reason", reason), zap.Error(err))
		s.writeError(w, r, status, err.Error())
		return nil, false, false
	}

	s.metrics.observeAnalysis(a, cached, elapsed.Seconds())
	s.totalAnalyses.Add(1)
	s.totalFindings.Add(int64(len(a.Findings)))

	if s.audit != nil {
		rec := audit.NewRecord(sessionID, s.analyzer.Sources(), a)
		// Detached from the request so a client disconnect does not drop the record.
		auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.audit.Save(auditCtx, rec); err != nil {
			log.Warn("Failed to save audit record", zap.Error(err))
		}
		cancel()
	}

	s.wsHub.BroadcastEvent(websocket.NewAnalysisEvent(requestID, sessionID, s.analyzer.Sources(), a, cached, elapsed))

	return a, cached, true
}

func analysisErrorStatus(err error) (int, string) {
	switch {
	case analyzer.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	case errors.Is(err, analyzer.ErrDetectionUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decode reads a size-capped JSON body into v, writing 413 or 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: getRequestID(r.Context())})
}
