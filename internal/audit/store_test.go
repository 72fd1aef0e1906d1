package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStoreWithDB(sqlx.NewDb(db, "sqlmock"), logger.NewNop()), mock
}

func sampleAnalysis() *privacy.Analysis {
	return &privacy.Analysis{
		RiskScore: 53,
		RiskLevel: privacy.RiskMedium,
		Findings: []privacy.Finding{
			{ID: "CreditCard-0-950", Category: privacy.CategoryCreditCard, Value: "4539148803436467", Start: 6, End: 22},
			{ID: "NationalID-0-850", Category: privacy.CategoryNationalID, Value: "10000000146", Start: 28, End: 39},
		},
		DistinctCategories: 2,
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord("session-1", []string{"local"}, sampleAnalysis())

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "session-1", rec.SessionID)
	assert.Equal(t, 53, rec.RiskScore)
	assert.Equal(t, privacy.RiskMedium, rec.RiskLevel)
	assert.Equal(t, 2, rec.FindingCount)
	assert.Equal(t, 2, rec.DistinctCategories)
	assert.Equal(t, Counts{"CreditCard": 1, "NationalID": 1}, rec.CategoryCounts)
	assert.Equal(t, []string{"local"}, []string(rec.Sources))
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)

	other := NewRecord("session-1", nil, sampleAnalysis())
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestInitialize(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pii_audit").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Initialize(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSave(t *testing.T) {
	store, mock := newMockStore(t)
	rec := NewRecord("s", []string{"local", "remote"}, sampleAnalysis())

	mock.ExpectExec("INSERT INTO pii_audit").
		WithArgs(rec.ID, "s", rec.CreatedAt, 53, "medium", 2, 2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO pii_audit").WillReturnError(errors.New("connection lost"))

	err := store.Save(context.Background(), NewRecord("", nil, sampleAnalysis()))
	assert.ErrorContains(t, err, "failed to insert audit record")
}

func TestSaveBatch(t *testing.T) {
	store, mock := newMockStore(t)
	records := []*Record{
		NewRecord("a", []string{"local"}, sampleAnalysis()),
		NewRecord("b", []string{"local"}, sampleAnalysis()),
	}

	mock.ExpectExec(`INSERT INTO pii_audit .* VALUES \(\$1, .*\$9\),\(\$10, .*\$18\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := store.SaveBatch(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Inserted)
	assert.Equal(t, int64(0), result.Failed)
	require.NoError(t, mock.ExpectationsWereMet())

	empty, err := store.SaveBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Inserted)
}

func TestRecent(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "created_at", "risk_score", "risk_level",
		"finding_count", "distinct_categories", "category_counts", "sources",
	}).AddRow("2b1e", "s", created, 53, "medium", 2, 2, []byte(`{"CreditCard":1,"NationalID":1}`), []byte(`{local,remote}`))

	mock.ExpectQuery("SELECT (.+) FROM pii_audit").WithArgs(maxRecentLimit).WillReturnRows(rows)

	records, err := store.Recent(context.Background(), 10_000)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "2b1e", rec.ID)
	assert.Equal(t, created, rec.CreatedAt)
	assert.Equal(t, privacy.RiskMedium, rec.RiskLevel)
	assert.Equal(t, Counts{"CreditCard": 1, "NationalID": 1}, rec.CategoryCounts)
	assert.Equal(t, []string{"local", "remote"}, []string(rec.Sources))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDefaultLimit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM pii_audit").WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	records, err := store.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestStats(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM pii_audit").WillReturnRows(
		sqlmock.NewRows([]string{"total", "high", "medium", "low", "avg_risk_score"}).AddRow(10, 2, 3, 5, 31.5),
	)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Stats{Total: 10, High: 2, Medium: 3, Low: 5, AvgRiskScore: 31.5}, stats)
}

func TestCounts(t *testing.T) {
	v, err := Counts(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)

	var c Counts
	require.NoError(t, c.Scan(`{"Email":3}`))
	assert.Equal(t, Counts{"Email": 3}, c)

	require.NoError(t, c.Scan(nil))
	assert.Empty(t, c)

	assert.Error(t, c.Scan(42))
}

func TestMaskDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://audit:xxxxx@db:5432/pii", maskDatabaseURL("postgres://audit:secret@db:5432/pii"))
}
