// Package recognizer provides the entity sources the analyzer can run: the
// local pattern detector, a remote Presidio-style analyzer service, an Ollama
// LLM fallback and a primary/secondary chain of those.
package recognizer

import (
	"context"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Source detects raw entities in text. Implementations must honour the
// context deadline and must not retain text after returning.
type Source interface {
	Name() string
	Detect(ctx context.Context, text string) ([]privacy.RawEntity, error)
}

// TraceReporter is implemented by sources that report stage timings of their
// own, such as a remote analyzer returning its pipeline trace.
type TraceReporter interface {
	DetectWithTrace(ctx context.Context, text string) ([]privacy.RawEntity, []privacy.TraceStep, error)
}

// LocalSource adapts the pattern detector to the Source interface.
type LocalSource struct {
	detector *privacy.Detector
}

// NewLocalSource wraps a detector.
func NewLocalSource(detector *privacy.Detector) *LocalSource {
	return &LocalSource{detector: detector}
}

// Name implements Source.
func (s *LocalSource) Name() string { return "local" }

// Detect implements Source. Local matching cannot fail; it only checks the
// context before doing any work.
func (s *LocalSource) Detect(ctx context.Context, text string) ([]privacy.RawEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.detector.Detect(text), nil
}
