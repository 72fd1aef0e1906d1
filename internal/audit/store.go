// Package audit persists a text-free summary of every analysis to PostgreSQL.
package audit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
)

const schema = `
	CREATE TABLE IF NOT EXISTS pii_audit (
		id                  UUID PRIMARY KEY,
		session_id          TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL,
		risk_score          INTEGER NOT NULL,
		risk_level          TEXT NOT NULL,
		finding_count       INTEGER NOT NULL,
		distinct_categories INTEGER NOT NULL,
		category_counts     JSONB NOT NULL DEFAULT '{}',
		sources             TEXT[] NOT NULL DEFAULT '{}'
	)`

const maxRecentLimit = 500

// Store writes and reads audit records.
type Store struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewStore connects to PostgreSQL and bootstraps the schema.
func NewStore(config Config, log *logger.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := NewStoreWithDB(db, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.Initialize(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	log.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)

	return store, nil
}

// NewStoreWithDB wraps an existing connection.
func NewStoreWithDB(db *sqlx.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log}
}

// Initialize checks the connection and creates the audit table.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Save inserts one record.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO pii_audit (id, session_id, created_at, risk_score, risk_level,
			finding_count, distinct_categories, category_counts, sources)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.SessionID,
		rec.CreatedAt,
		rec.RiskScore,
		rec.RiskLevel,
		rec.FindingCount,
		rec.DistinctCategories,
		rec.CategoryCounts,
		rec.Sources,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	s.logger.Debug("Audit record saved",
		zap.String("id", rec.ID),
		zap.Int("risk_score", rec.RiskScore),
	)
	return nil
}

// SaveBatch inserts records with a single multi-row statement.
func (s *Store) SaveBatch(ctx context.Context, records []*Record) (*BatchResult, error) {
	if len(records) == 0 {
		return &BatchResult{}, nil
	}

	start := time.Now()
	const columns = 9
	valueStrings := make([]string, 0, len(records))
	valueArgs := make([]any, 0, len(records)*columns)

	for i, rec := range records {
		placeholders := make([]string, columns)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*columns+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
		valueArgs = append(valueArgs,
			rec.ID,
			rec.SessionID,
			rec.CreatedAt,
			rec.RiskScore,
			rec.RiskLevel,
			rec.FindingCount,
			rec.DistinctCategories,
			rec.CategoryCounts,
			rec.Sources,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO pii_audit (id, session_id, created_at, risk_score, risk_level,
			finding_count, distinct_categories, category_counts, sources)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`, strings.Join(valueStrings, ","))

	result := &BatchResult{}
	res, err := s.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		result.Failed = int64(len(records))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result.Inserted = inserted
	result.Failed = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Audit batch saved",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("skipped", result.Failed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Recent returns the newest records first. limit is clamped to [1, 500].
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	query := `
		SELECT id, session_id, created_at, risk_score, risk_level,
			finding_count, distinct_categories, category_counts, sources
		FROM pii_audit
		ORDER BY created_at DESC
		LIMIT $1`

	records := []Record{}
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	return records, nil
}

// Stats aggregates the audit trail by risk level.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN risk_level = 'high' THEN 1 END) AS high,
			COUNT(CASE WHEN risk_level = 'medium' THEN 1 END) AS medium,
			COUNT(CASE WHEN risk_level = 'low' THEN 1 END) AS low,
			COALESCE(AVG(risk_score), 0) AS avg_risk_score
		FROM pii_audit`

	var stats Stats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return &stats, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL hides the password of a database URL for logging
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid>"
	}
	return u.Redacted()
}
