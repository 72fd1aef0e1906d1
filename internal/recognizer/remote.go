package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

const maxRemoteResponse = 10 << 20 // 10 MB

// RemoteConfig configures the remote analyzer client.
type RemoteConfig struct {
	URL     string
	Timeout time.Duration
}

// StatusError is returned when the remote analyzer answers with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote analyzer responded with status %d", e.StatusCode)
}

type remoteRequest struct {
	Text string `json:"text"`
}

type remoteEntity struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Score       float64 `json:"score"`
	Source      string  `json:"source"`
	Explanation string  `json:"explanation"`
}

type remoteTrace struct {
	Stage     string  `json:"stage"`
	Detail    string  `json:"detail"`
	ElapsedMs float64 `json:"elapsed_ms"`
}

type remoteResponse struct {
	Entities []remoteEntity `json:"entities"`
	HasPII   bool           `json:"has_pii"`
	Trace    []remoteTrace  `json:"trace"`
}

// RemoteSource calls a Presidio-style analyzer service over HTTP.
type RemoteSource struct {
	config RemoteConfig
	client *http.Client
	logger *logger.Logger
}

// NewRemoteSource creates a remote analyzer client.
func NewRemoteSource(cfg RemoteConfig, log *logger.Logger) (*RemoteSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("remote analyzer URL is required")
	}

	return &RemoteSource{
		config: cfg,
		client: &http.Client{},
		logger: log,
	}, nil
}

// Name implements Source.
func (s *RemoteSource) Name() string { return "remote" }

// Detect implements Source.
func (s *RemoteSource) Detect(ctx context.Context, text string) ([]privacy.RawEntity, error) {
	entities, _, err := s.DetectWithTrace(ctx, text)
	return entities, err
}

// DetectWithTrace implements TraceReporter. Remote trace events are returned
// with their stage prefixed by "remote:".
func (s *RemoteSource) DetectWithTrace(ctx context.Context, text string) ([]privacy.RawEntity, []privacy.TraceStep, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(remoteRequest{Text: text})
	if err != nil {
		return nil, nil, fmt.Errorf("encode remote request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("create remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("remote analyzer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse+1))
	if err != nil {
		return nil, nil, fmt.Errorf("read remote response: %w", err)
	}
	if len(body) > maxRemoteResponse {
		return nil, nil, fmt.Errorf("remote response exceeds %d bytes", maxRemoteResponse)
	}

	var parsed remoteResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("decode remote response: %w", err)
	}

	entities := make([]privacy.RawEntity, 0, len(parsed.Entities))
	for _, e := range parsed.Entities {
		provenance := privacy.ProvenanceExternalRecognizer
		if e.Source == "llm" {
			provenance = privacy.ProvenanceLLMFallback
		}
		entities = append(entities, privacy.RawEntity{
			Label:       e.Type,
			Text:        e.Text,
			Start:       e.Start,
			End:         e.End,
			Confidence:  e.Score,
			Provenance:  provenance,
			Explanation: e.Explanation,
		})
	}

	trace := make([]privacy.TraceStep, 0, len(parsed.Trace))
	for i, t := range parsed.Trace {
		stage := t.Stage
		if stage == "" {
			stage = fmt.Sprintf("event-%d", i+1)
		}
		elapsed := t.ElapsedMs
		if elapsed < 0 {
			elapsed = 0
		}
		trace = append(trace, privacy.TraceStep{
			Stage:     "remote:" + stage,
			Detail:    t.Detail,
			ElapsedMs: elapsed,
		})
	}

	s.logger.Debug("Remote analyzer responded",
		zap.Int("entities", len(entities)),
		zap.Bool("has_pii", parsed.HasPII),
		zap.Duration("duration", time.Since(start)),
	)

	return entities, trace, nil
}
