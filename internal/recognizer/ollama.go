package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

const maxOllamaResponse = 10 << 20 // 10 MB

// OllamaConfig configures the LLM fallback source.
type OllamaConfig struct {
	URL       string // base URL, e.g. http://localhost:11434
	Model     string
	Threshold float64
	Timeout   time.Duration
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

type ollamaDetection struct {
	Original   string  `json:"original"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

const ollamaPrompt = `Analyze the following text for PII (personally identifiable information).
Return ONLY a JSON array of detections. Each item must have:
- "original": the exact text found
- "type": one of: email, phone, nationalId, iban, creditCard, name, address, dob, other
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"original":"Ayşe Yılmaz","type":"name","confidence":0.95}]`

// OllamaSource asks a local Ollama model for PII and locates every reported
// value in the text.
type OllamaSource struct {
	config OllamaConfig
	client *http.Client
	logger *logger.Logger
}

// NewOllamaSource creates an Ollama backed source.
func NewOllamaSource(cfg OllamaConfig, log *logger.Logger) (*OllamaSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ollama URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ollama model is required")
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("ollama threshold %.2f outside [0,1]", cfg.Threshold)
	}

	return &OllamaSource{
		config: cfg,
		client: &http.Client{},
		logger: log,
	}, nil
}

// Name implements Source.
func (s *OllamaSource) Name() string { return "ollama" }

// Detect implements Source.
func (s *OllamaSource) Detect(ctx context.Context, text string) ([]privacy.RawEntity, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	detections, err := s.query(ctx, text)
	if err != nil {
		return nil, err
	}

	entities := make([]privacy.RawEntity, 0, len(detections))
	seen := make(map[string]bool)
	kept := 0
	for _, d := range detections {
		if d.Original == "" || d.Confidence < s.config.Threshold {
			continue
		}
		key := strings.ToUpper(d.Type) + "\x00" + d.Original
		if seen[key] {
			continue
		}
		seen[key] = true
		kept++

		for _, span := range locate(text, d.Original) {
			entities = append(entities, privacy.RawEntity{
				Label:      d.Type,
				Text:       d.Original,
				Start:      span[0],
				End:        span[1],
				Confidence: d.Confidence,
				Provenance: privacy.ProvenanceLLMFallback,
			})
		}
	}

	s.logger.Debug("Ollama detections processed",
		zap.Int("reported", len(detections)),
		zap.Int("kept", kept),
		zap.Int("entities", len(entities)),
	)

	return entities, nil
}

func (s *OllamaSource) query(ctx context.Context, text string) ([]ollamaDetection, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:  s.config.Model,
		Prompt: fmt.Sprintf(ollamaPrompt, text),
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	endpoint := strings.TrimRight(s.config.URL, "/") + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama responded with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse+1))
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}
	if len(body) > maxOllamaResponse {
		return nil, fmt.Errorf("ollama response exceeds %d bytes", maxOllamaResponse)
	}

	var generated ollamaResponse
	if err := json.Unmarshal(body, &generated); err != nil {
		return nil, fmt.Errorf("ollama response parse error: %w", err)
	}

	detections, ok, err := parseDetections(generated.Response)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Debug("Model reply holds no detection array, treating as no PII",
			zap.Int("reply_length", len(generated.Response)),
		)
	}
	return detections, nil
}

// parseDetections extracts the JSON array from free-form model output. ok is
// false when the output holds no array at all, which models use to say they
// found nothing.
func parseDetections(raw string) (detections []ollamaDetection, ok bool, err error) {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, false, nil
	}

	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, true, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, true, nil
}

// locate returns the code point spans of every non-overlapping occurrence of
// needle in text.
func locate(text, needle string) [][2]int {
	var spans [][2]int
	needleRunes := utf8.RuneCountInString(needle)
	byteOffset, runeOffset := 0, 0

	for {
		i := strings.Index(text[byteOffset:], needle)
		if i < 0 {
			return spans
		}
		runeOffset += utf8.RuneCountInString(text[byteOffset : byteOffset+i])
		spans = append(spans, [2]int{runeOffset, runeOffset + needleRunes})
		runeOffset += needleRunes
		byteOffset += i + len(needle)
	}
}
