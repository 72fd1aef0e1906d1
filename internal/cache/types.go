package cache

import (
	"context"
	"errors"
	"time"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// ErrMiss is returned by a Store when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte-oriented key/value backend with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Config contains cache configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend        string        `yaml:"backend" mapstructure:"backend"` // memory or redis
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxEntries     int           `yaml:"max_entries" mapstructure:"max_entries"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// Stats represents cache performance statistics
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	HitRate float64 `json:"hit_rate"`
}

// entry is the stored form of an analysis. It keeps offsets, categories and
// scores but never the analyzed text: finding values and the masked rendering
// are rebuilt from the caller's text on a hit.
type entry struct {
	RiskScore          int                 `json:"risk_score"`
	RiskLevel          privacy.RiskLevel   `json:"risk_level"`
	Findings           []entryFinding      `json:"findings"`
	DistinctCategories int                 `json:"distinct_categories"`
	Masked             bool                `json:"masked"`
	Trace              []privacy.TraceStep `json:"trace"`
	CachedAt           time.Time           `json:"cached_at"`
}

type entryFinding struct {
	ID          string             `json:"id"`
	Category    privacy.Category   `json:"category"`
	Start       int                `json:"start"`
	End         int                `json:"end"`
	Confidence  int                `json:"confidence"`
	Provenance  privacy.Provenance `json:"provenance"`
	Explanation string             `json:"explanation"`
}
