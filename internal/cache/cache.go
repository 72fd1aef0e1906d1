// Package cache memoizes analyses by a hash of the analyzed text. Stored
// entries hold offsets and scores only; values are rebuilt from the text the
// caller passes in, so no analyzed text reaches the backend.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// DefaultTTL applies when Config.DefaultTTL is unset.
const DefaultTTL = 10 * time.Minute

// ComputeFunc produces the analysis for a cache miss.
type ComputeFunc func(ctx context.Context) (*privacy.Analysis, error)

// Cache wraps a Store with single-flight computation per key.
type Cache struct {
	store  Store
	tokens privacy.TokenTable
	ttl    time.Duration
	prefix string
	group  singleflight.Group
	logger *logger.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a cache over store. tokens renders the masked text of entries
// that were stored with one.
func New(store Store, config Config, tokens privacy.TokenTable, log *logger.Logger) *Cache {
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		store:  store,
		tokens: tokens,
		ttl:    ttl,
		prefix: config.KeyPrefix,
		logger: log,
	}
}

// Open builds the store selected by config.Backend and wraps it.
func Open(config Config, tokens privacy.TokenTable, log *logger.Logger) (*Cache, error) {
	var store Store
	switch config.Backend {
	case "", "memory":
		store = NewMemoryStore(config.MaxEntries)
	case "redis":
		rs, err := NewRedisStore(config, log)
		if err != nil {
			return nil, err
		}
		store = rs
	default:
		return nil, fmt.Errorf("unknown cache backend %q (must be memory or redis)", config.Backend)
	}

	log.Info("Analysis cache enabled",
		zap.String("backend", config.Backend),
		zap.Duration("ttl", config.DefaultTTL),
	)
	return New(store, config, tokens, log), nil
}

// Key returns the storage key for text.
func (c *Cache) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + "analysis:" + hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached analysis of text or computes it. At most one
// computation per key is in flight; concurrent callers share its result.
// Backend failures are logged and fall back to computing. hit reports whether
// the result came from the store.
//
// The shared computation does not inherit any caller's cancellation; compute
// must bound itself. Each caller stops waiting when its own ctx is done.
func (c *Cache) GetOrCompute(ctx context.Context, text string, compute ComputeFunc) (analysis *privacy.Analysis, hit bool, err error) {
	key := c.Key(text)

	if a, ok := c.lookup(ctx, key, text); ok {
		c.hits.Add(1)
		return a, true, nil
	}
	c.misses.Add(1)

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		a, err := compute(shared)
		if err != nil {
			return nil, err
		}
		c.save(shared, key, a)
		return a, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*privacy.Analysis), false, nil
	}
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total) * 100
	}
	return s
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) lookup(ctx context.Context, key, text string) (*privacy.Analysis, bool) {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return nil, false
	}
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("Cache lookup failed", zap.Error(err))
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.errors.Add(1)
		c.logger.Warn("Discarding corrupt cache entry", zap.Error(err))
		return nil, false
	}

	a, err := e.restore(text, c.tokens)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("Discarding cache entry that does not fit text", zap.Error(err))
		return nil, false
	}
	return a, true
}

func (c *Cache) save(ctx context.Context, key string, a *privacy.Analysis) {
	data, err := json.Marshal(newEntry(a))
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("Failed to encode cache entry", zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.errors.Add(1)
		c.logger.Warn("Failed to store cache entry", zap.Error(err))
	}
}

func newEntry(a *privacy.Analysis) entry {
	findings := make([]entryFinding, 0, len(a.Findings))
	for _, f := range a.Findings {
		findings = append(findings, entryFinding{
			ID:          f.ID,
			Category:    f.Category,
			Start:       f.Start,
			End:         f.End,
			Confidence:  f.Confidence,
			Provenance:  f.Provenance,
			Explanation: f.Explanation,
		})
	}
	return entry{
		RiskScore:          a.RiskScore,
		RiskLevel:          a.RiskLevel,
		Findings:           findings,
		DistinctCategories: a.DistinctCategories,
		Masked:             a.MaskedText != "",
		Trace:              a.Trace,
		CachedAt:           time.Now().UTC(),
	}
}

// restore rebuilds the analysis of text from a stored entry.
func (e entry) restore(text string, tokens privacy.TokenTable) (*privacy.Analysis, error) {
	runes := []rune(text)
	findings := make([]privacy.Finding, 0, len(e.Findings))
	for _, f := range e.Findings {
		if f.Start < 0 || f.End <= f.Start || f.End > len(runes) {
			return nil, fmt.Errorf("%w: cached [%d,%d)", privacy.ErrInvalidSpan, f.Start, f.End)
		}
		findings = append(findings, privacy.Finding{
			ID:          f.ID,
			Category:    f.Category,
			Value:       string(runes[f.Start:f.End]),
			Start:       f.Start,
			End:         f.End,
			Confidence:  f.Confidence,
			Provenance:  f.Provenance,
			Explanation: f.Explanation,
		})
	}

	a := &privacy.Analysis{
		RiskScore:          e.RiskScore,
		RiskLevel:          e.RiskLevel,
		Findings:           findings,
		DistinctCategories: e.DistinctCategories,
		Trace:              e.Trace,
	}
	if a.Trace == nil {
		a.Trace = []privacy.TraceStep{}
	}
	if e.Masked {
		a.MaskedText = privacy.MaskWith(tokens, text, findings, privacy.AllIDs(findings))
	}
	return a, nil
}
