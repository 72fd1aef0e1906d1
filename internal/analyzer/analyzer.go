// Package analyzer composes entity detection, normalization, scoring and
// masking into a single analysis call.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/recognizer"
)

// DefaultTimeout bounds one analysis when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config controls an Analyzer.
type Config struct {
	Timeout   time.Duration
	EagerMask bool   // precompute MaskedText with every finding masked
	Locale    string // mask token locale, defaults to privacy.DefaultLocale
}

// Analyzer runs the configured entity sources and assembles an Analysis. It
// holds no per-call state and is safe for concurrent use.
type Analyzer struct {
	config  Config
	sources []recognizer.Source
	tokens  privacy.TokenTable
	logger  *logger.Logger
}

// New creates an analyzer over one or more entity sources.
func New(cfg Config, log *logger.Logger, sources ...recognizer.Source) (*Analyzer, error) {
	if len(sources) == 0 {
		return nil, errors.New("at least one entity source is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Locale == "" {
		cfg.Locale = privacy.DefaultLocale
	}

	tokens, ok := privacy.Tokens(cfg.Locale)
	if !ok {
		return nil, fmt.Errorf("unsupported mask locale %q (supported: %s)", cfg.Locale, strings.Join(privacy.Locales(), ", "))
	}

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	log.Info("Analyzer initialized",
		zap.Strings("sources", names),
		zap.Duration("timeout", cfg.Timeout),
		zap.Bool("eager_mask", cfg.EagerMask),
		zap.String("locale", cfg.Locale),
	)

	return &Analyzer{
		config:  cfg,
		sources: sources,
		tokens:  tokens,
		logger:  log,
	}, nil
}

// Analyze detects, normalizes, scores and optionally masks text. Blank input
// returns an empty analysis without calling any source. Any source failure
// fails the whole call with an error matching ErrDetectionUnavailable.
func (a *Analyzer) Analyze(ctx context.Context, text string) (*privacy.Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return privacy.EmptyAnalysis(), nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	batches, trace, err := a.detect(ctx, text)
	if err != nil {
		a.logger.Warn("Entity detection failed",
			zap.Bool("timeout", IsTimeout(err)),
			zap.Error(err),
		)
		return nil, err
	}

	start := time.Now()
	findings, err := privacy.Normalize(text, batches...)
	if err != nil {
		return nil, fmt.Errorf("normalize entities: %w", err)
	}
	trace = append(trace, stepSince("normalize", fmt.Sprintf("%d findings", len(findings)), start))

	start = time.Now()
	score, level := privacy.Score(findings)
	trace = append(trace, stepSince("score", fmt.Sprintf("score %d (%s)", score, level), start))

	analysis := &privacy.Analysis{
		RiskScore:          score,
		RiskLevel:          level,
		Findings:           findings,
		DistinctCategories: privacy.DistinctCategories(findings),
	}

	if a.config.EagerMask {
		start = time.Now()
		analysis.MaskedText = privacy.MaskWith(a.tokens, text, findings, privacy.AllIDs(findings))
		trace = append(trace, stepSince("mask", fmt.Sprintf("%d findings masked", len(findings)), start))
	}

	analysis.Trace = trace

	a.logger.Debug("Analysis completed",
		zap.Int("findings", len(findings)),
		zap.Int("risk_score", score),
		zap.String("risk_level", string(level)),
	)

	return analysis, nil
}

// Mask renders text with the selected findings replaced by tokens of the
// configured locale. It never touches the Analysis the findings came from.
func (a *Analyzer) Mask(text string, findings []privacy.Finding, ids privacy.IDSet) string {
	return privacy.MaskWith(a.tokens, text, findings, ids)
}

// Locale returns the mask token locale.
func (a *Analyzer) Locale() string {
	return a.config.Locale
}

// Sources lists the names of the configured entity sources.
func (a *Analyzer) Sources() []string {
	names := make([]string, 0, len(a.sources))
	for _, s := range a.sources {
		names = append(names, s.Name())
	}
	return names
}

type sourceResult struct {
	entities []privacy.RawEntity
	trace    []privacy.TraceStep
	elapsed  float64
}

// detect runs every source concurrently and returns their entity batches in
// source order. The first failure cancels the others.
func (a *Analyzer) detect(ctx context.Context, text string) ([][]privacy.RawEntity, []privacy.TraceStep, error) {
	results := make([]sourceResult, len(a.sources))
	g, gctx := errgroup.WithContext(ctx)

	for i, src := range a.sources {
		g.Go(func() error {
			start := time.Now()
			entities, trace, err := recognizer.Run(gctx, src, text)
			if err != nil {
				return &SourceError{Source: src.Name(), Err: err}
			}
			results[i] = sourceResult{entities: entities, trace: trace, elapsed: elapsedMs(start)}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return nil, nil, err
		}
	case <-ctx.Done():
		// A source that ignores cancellation must not hold the caller.
		return nil, nil, &SourceError{Source: strings.Join(a.Sources(), ","), Err: ctx.Err()}
	}

	batches := make([][]privacy.RawEntity, 0, len(results))
	trace := make([]privacy.TraceStep, 0, len(results)+3)
	for i, r := range results {
		batches = append(batches, r.entities)
		trace = append(trace, privacy.TraceStep{
			Stage:     "detect:" + a.sources[i].Name(),
			Detail:    fmt.Sprintf("%d entities", len(r.entities)),
			ElapsedMs: r.elapsed,
		})
		trace = append(trace, r.trace...)
	}

	return batches, trace, nil
}

func stepSince(stage, detail string, start time.Time) privacy.TraceStep {
	return privacy.TraceStep{Stage: stage, Detail: detail, ElapsedMs: elapsedMs(start)}
}

// elapsedMs returns the time since start in milliseconds with two decimals.
func elapsedMs(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Microseconds())/10) / 100
}
