package export

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func TestNew(t *testing.T) {
	a := &privacy.Analysis{
		RiskScore: 12,
		RiskLevel: privacy.RiskLow,
		Findings: []privacy.Finding{
			{ID: "Email-0-950", Category: privacy.CategoryEmail, Value: "ahmet@bank.com", Start: 9, End: 23, Confidence: 95},
		},
		MaskedText:         "Contact: [E-posta]",
		DistinctCategories: 1,
		Trace:              []privacy.TraceStep{{Stage: "detect:local", Detail: "1 entities"}},
	}
	at := time.Date(2024, 5, 1, 15, 0, 0, 0, time.FixedZone("TRT", 3*3600))

	doc := New("abc-123", "tr", a, "Contact: ahmet@bank.com", at)

	assert.Equal(t, "abc-123", doc.SessionID)
	assert.Equal(t, "tr", doc.Locale)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), doc.GeneratedAt)
	assert.Equal(t, "Contact: ahmet@bank.com", doc.MaskedText, "uses the selection rendering, not the eager mask")
	assert.Equal(t, a.Findings, doc.Findings)
	assert.Equal(t, 1, doc.DistinctCategories)
}

func TestWrite(t *testing.T) {
	doc := New("s", "en", privacy.EmptyAnalysis(), "", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))

	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "s", got["sessionId"])
	assert.Equal(t, "2024-01-02T03:04:05Z", got["generatedAt"])
	assert.Equal(t, "low", got["riskLevel"])
	assert.Equal(t, []any{}, got["findings"])
	assert.Equal(t, []any{}, got["trace"])
	assert.Contains(t, buf.String(), "\n  \"locale\": \"en\"")
}

func TestFileName(t *testing.T) {
	tests := map[string]string{
		"abc-123":          "pii-analysis-abc-123.json",
		"":                 "pii-analysis.json",
		"../../etc/passwd": "pii-analysis-etcpasswd.json",
		"a b\"c":           "pii-analysis-abc.json",
		"0f8c_SESSION":     "pii-analysis-0f8c_SESSION.json",
		"ğüş":              "pii-analysis.json",
	}
	for session, want := range tests {
		assert.Equal(t, want, (&Document{SessionID: session}).FileName(), session)
	}
}
