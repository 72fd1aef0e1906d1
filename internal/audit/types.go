package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Config contains database configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// Record is one audited analysis. It holds scores and per-category counts
// only, never the analyzed text or finding values.
type Record struct {
	ID                 string            `db:"id" json:"id"`
	SessionID          string            `db:"session_id" json:"session_id"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	RiskScore          int               `db:"risk_score" json:"risk_score"`
	RiskLevel          privacy.RiskLevel `db:"risk_level" json:"risk_level"`
	FindingCount       int               `db:"finding_count" json:"finding_count"`
	DistinctCategories int               `db:"distinct_categories" json:"distinct_categories"`
	CategoryCounts     Counts            `db:"category_counts" json:"category_counts"`
	Sources            pq.StringArray    `db:"sources" json:"sources"`
}

// NewRecord summarizes an analysis for the audit trail.
func NewRecord(sessionID string, sources []string, a *privacy.Analysis) *Record {
	counts := make(Counts)
	for c, n := range a.CategoryCounts() {
		counts[string(c)] = n
	}

	return &Record{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		CreatedAt:          time.Now().UTC(),
		RiskScore:          a.RiskScore,
		RiskLevel:          a.RiskLevel,
		FindingCount:       len(a.Findings),
		DistinctCategories: a.DistinctCategories,
		CategoryCounts:     counts,
		Sources:            pq.StringArray(append([]string(nil), sources...)),
	}
}

// Counts maps a category name to its number of findings. It is stored as JSONB.
type Counts map[string]int

// Value implements driver.Valuer.
func (c Counts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *Counts) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Counts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported category_counts type %T", src)
	}
	*c = Counts{}
	return json.Unmarshal(data, c)
}

// Stats summarizes the audit trail.
type Stats struct {
	Total        int64   `db:"total" json:"total"`
	High         int64   `db:"high" json:"high"`
	Medium       int64   `db:"medium" json:"medium"`
	Low          int64   `db:"low" json:"low"`
	AvgRiskScore float64 `db:"avg_risk_score" json:"avg_risk_score"`
}

// BatchResult represents the result of a batch insert
type BatchResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}
