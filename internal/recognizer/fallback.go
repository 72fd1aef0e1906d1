package recognizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// FallbackSource runs Secondary only when Primary fails. It fails only when
// both do.
type FallbackSource struct {
	Primary   Source
	Secondary Source
	logger    *logger.Logger
}

// NewFallbackSource chains two sources.
func NewFallbackSource(primary, secondary Source, log *logger.Logger) *FallbackSource {
	return &FallbackSource{Primary: primary, Secondary: secondary, logger: log}
}

// Name implements Source.
func (s *FallbackSource) Name() string {
	return s.Primary.Name() + "|" + s.Secondary.Name()
}

// Detect implements Source.
func (s *FallbackSource) Detect(ctx context.Context, text string) ([]privacy.RawEntity, error) {
	entities, _, err := s.DetectWithTrace(ctx, text)
	return entities, err
}

// DetectWithTrace implements TraceReporter. When the secondary source serves
// the request a "fallback" step is recorded first.
func (s *FallbackSource) DetectWithTrace(ctx context.Context, text string) ([]privacy.RawEntity, []privacy.TraceStep, error) {
	start := time.Now()
	entities, trace, primaryErr := Run(ctx, s.Primary, text)
	if primaryErr == nil {
		return entities, trace, nil
	}

	// The caller gave up; the secondary would fail the same way.
	if ctx.Err() != nil {
		return nil, nil, primaryErr
	}

	s.logger.Warn("Primary entity source failed, using fallback",
		zap.String("primary", s.Primary.Name()),
		zap.String("secondary", s.Secondary.Name()),
		zap.Error(primaryErr),
	)

	step := privacy.TraceStep{
		Stage:     "fallback",
		Detail:    fmt.Sprintf("%s failed, using %s", s.Primary.Name(), s.Secondary.Name()),
		ElapsedMs: elapsedMs(start),
	}

	entities, trace, secondaryErr := Run(ctx, s.Secondary, text)
	if secondaryErr != nil {
		return nil, nil, errors.Join(
			fmt.Errorf("%s: %w", s.Primary.Name(), primaryErr),
			fmt.Errorf("%s: %w", s.Secondary.Name(), secondaryErr),
		)
	}

	return entities, append([]privacy.TraceStep{step}, trace...), nil
}

// Run calls src and returns its entities along with its own trace when it
// reports one.
func Run(ctx context.Context, src Source, text string) ([]privacy.RawEntity, []privacy.TraceStep, error) {
	if tr, ok := src.(TraceReporter); ok {
		return tr.DetectWithTrace(ctx, text)
	}
	entities, err := src.Detect(ctx, text)
	return entities, nil, err
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
