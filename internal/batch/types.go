package batch

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Record is a single row of an input dataset.
type Record struct {
	Row  int    `json:"row"`
	Text string `json:"text"`
}

// Result is the outcome of analyzing one Record. Values of findings are
// never included; MaskedText is omitted when masking is disabled.
type Result struct {
	Row          int               `json:"row"`
	RiskScore    int               `json:"risk_score"`
	RiskLevel    privacy.RiskLevel `json:"risk_level,omitempty"`
	FindingCount int               `json:"finding_count"`
	Categories   map[string]int    `json:"categories,omitempty"`
	MaskedText   string            `json:"masked_text,omitempty"`
	Cached       bool              `json:"cached,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Summary aggregates a pipeline run.
type Summary struct {
	TotalRecords int64         `json:"total_records"`
	ProcessedOK  int64         `json:"processed_ok"`
	Failed       int64         `json:"failed"`
	WithPII      int64         `json:"with_pii"`
	High         int64         `json:"high"`
	Medium       int64         `json:"medium"`
	Low          int64         `json:"low"`
	CacheHits    int64         `json:"cache_hits"`
	Audited      int64         `json:"audited"`
	Duration     time.Duration `json:"duration"`
}

// Config contains batch pipeline configuration
type Config struct {
	Workers        int    `yaml:"workers" mapstructure:"workers"`                   // 4
	IncludeMasked  bool   `yaml:"include_masked" mapstructure:"include_masked"`     // true
	AuditBatchSize int    `yaml:"audit_batch_size" mapstructure:"audit_batch_size"` // 500
	ProgressReport int    `yaml:"progress_report" mapstructure:"progress_report"`   // 1000
	SessionID      string `yaml:"session_id" mapstructure:"session_id"`
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
	FormatUnknown FileFormat = ""
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatUnknown
	}
}
