// Package batch scans datasets for PII with a pool of analysis workers.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/audit"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Analyzer is the part of analyzer.Analyzer the pipeline depends on.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*privacy.Analysis, error)
	Mask(text string, findings []privacy.Finding, ids privacy.IDSet) string
	Sources() []string
}

// AuditSink stores audit records in bulk.
type AuditSink interface {
	SaveBatch(ctx context.Context, records []*audit.Record) (*audit.BatchResult, error)
}

const (
	defaultWorkers        = 4
	defaultAuditBatchSize = 500
	defaultProgressReport = 1000
)

// Pipeline analyzes dataset records concurrently.
type Pipeline struct {
	analyzer Analyzer
	cache    *cache.Cache
	audit    AuditSink
	config   Config
	logger   *logger.Logger

	processed atomic.Int64
}

// NewPipeline creates a new batch pipeline. cache and sink may be nil.
func NewPipeline(a Analyzer, c *cache.Cache, sink AuditSink, config Config, log *logger.Logger) *Pipeline {
	if config.Workers <= 0 {
		config.Workers = defaultWorkers
	}
	if config.AuditBatchSize <= 0 {
		config.AuditBatchSize = defaultAuditBatchSize
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = defaultProgressReport
	}

	return &Pipeline{
		analyzer: a,
		cache:    c,
		audit:    sink,
		config:   config,
		logger:   log.WithComponent("batch"),
	}
}

// Run analyzes records with config.Workers workers. Results are returned in
// input order. A record whose analysis fails carries the error in its Result
// and does not stop the run; only cancellation of ctx does.
func (p *Pipeline) Run(ctx context.Context, records []Record) ([]Result, *Summary, error) {
	start := time.Now()
	p.processed.Store(0)

	p.logger.Info("Starting batch pipeline",
		zap.Int("records", len(records)),
		zap.Int("workers", p.config.Workers),
	)

	results := make([]Result, len(records))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.process(ctx, records[i])
				p.reportProgress(start, len(records))
			}
		}()
	}

feed:
	for i := range records {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		p.logger.Warn("Batch pipeline cancelled",
			zap.Int64("processed", p.processed.Load()),
			zap.Error(err),
		)
		return nil, nil, err
	}

	summary := summarize(results)
	summary.Audited = p.saveAudit(ctx, records, results)
	summary.Duration = time.Since(start)

	p.logger.Info("Batch pipeline completed",
		zap.Int64("total_records", summary.TotalRecords),
		zap.Int64("processed_ok", summary.ProcessedOK),
		zap.Int64("failed", summary.Failed),
		zap.Int64("with_pii", summary.WithPII),
		zap.Int64("cache_hits", summary.CacheHits),
		zap.Duration("duration", summary.Duration),
	)

	return results, summary, nil
}

func (p *Pipeline) process(ctx context.Context, rec Record) Result {
	result := Result{Row: rec.Row}

	var (
		a   *privacy.Analysis
		hit bool
		err error
	)
	if p.cache != nil {
		a, hit, err = p.cache.GetOrCompute(ctx, rec.Text, func(ctx context.Context) (*privacy.Analysis, error) {
			return p.analyzer.Analyze(ctx, rec.Text)
		})
	} else {
		a, err = p.analyzer.Analyze(ctx, rec.Text)
	}
	if err != nil {
		p.logger.Debug("Record analysis failed", zap.Int("row", rec.Row), zap.Error(err))
		result.Error = err.Error()
		return result
	}

	result.RiskScore = a.RiskScore
	result.RiskLevel = a.RiskLevel
	result.FindingCount = len(a.Findings)
	result.Cached = hit
	if len(a.Findings) > 0 {
		result.Categories = make(map[string]int)
		for c, n := range a.CategoryCounts() {
			result.Categories[string(c)] = n
		}
	}
	if p.config.IncludeMasked {
		result.MaskedText = p.analyzer.Mask(rec.Text, a.Findings, privacy.AllIDs(a.Findings))
	}
	return result
}

// saveAudit writes one audit record per successful analysis in chunks of
// config.AuditBatchSize. Failures are logged.
func (p *Pipeline) saveAudit(ctx context.Context, records []Record, results []Result) int64 {
	if p.audit == nil {
		return 0
	}

	sources := p.analyzer.Sources()
	var saved int64
	pending := make([]*audit.Record, 0, p.config.AuditBatchSize)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		res, err := p.audit.SaveBatch(ctx, pending)
		if err != nil {
			p.logger.Warn("Failed to save audit batch", zap.Int("records", len(pending)), zap.Error(err))
		} else {
			saved += res.Inserted
		}
		pending = pending[:0]
	}

	for i, r := range results {
		if r.Error != "" {
			continue
		}
		pending = append(pending, auditRecord(p.config.SessionID, sources, records[i].Row, r))
		if len(pending) == p.config.AuditBatchSize {
			flush()
		}
	}
	flush()

	return saved
}

func auditRecord(sessionID string, sources []string, row int, r Result) *audit.Record {
	rec := audit.NewRecord(sessionID, sources, &privacy.Analysis{RiskScore: r.RiskScore, RiskLevel: r.RiskLevel})
	rec.FindingCount = r.FindingCount
	rec.DistinctCategories = len(r.Categories)
	for c, n := range r.Categories {
		rec.CategoryCounts[c] = n
	}
	return rec
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(start time.Time, total int) {
	n := p.processed.Add(1)
	if n%int64(p.config.ProgressReport) != 0 {
		return
	}

	elapsed := time.Since(start)
	p.logger.Info("Processing progress",
		zap.Int64("records_processed", n),
		zap.Int("records_total", total),
		zap.Float64("rate_per_sec", float64(n)/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed),
	)
}

func summarize(results []Result) *Summary {
	s := &Summary{TotalRecords: int64(len(results))}
	for _, r := range results {
		if r.Error != "" {
			s.Failed++
			continue
		}
		s.ProcessedOK++
		if r.FindingCount > 0 {
			s.WithPII++
		}
		if r.Cached {
			s.CacheHits++
		}
		switch r.RiskLevel {
		case privacy.RiskHigh:
			s.High++
		case privacy.RiskMedium:
			s.Medium++
		default:
			s.Low++
		}
	}
	return s
}
