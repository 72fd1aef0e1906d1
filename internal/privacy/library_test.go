package privacy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/logger"
)

func TestDefaultLibraryCompiles(t *testing.T) {
	lib, err := NewLibrary(LibraryConfig{})
	require.NoError(t, err)

	ids := make([]string, 0, lib.Len())
	for _, r := range lib.Rules() {
		ids = append(ids, r.ID)
		assert.True(t, r.Category.Valid(), "rule %s", r.ID)
		assert.NotZero(t, r.SeverityWeight, "rule %s", r.ID)
	}
	assert.Equal(t, []string{"email", "phone", "credit-card", "tc-kimlik", "iban", "ip-address", "date"}, ids)

	card, ok := lib.Rule("credit-card")
	require.True(t, ok)
	assert.Equal(t, CategoryCreditCard, card.Category)
	assert.Equal(t, uint(28), card.SeverityWeight)
	assert.False(t, card.Accept("4539148803436468"))
	assert.True(t, card.Accept("4539148803436467"))
}

func TestCompileRulesErrors(t *testing.T) {
	tests := []struct {
		name string
		rule RuleConfig
	}{
		{"bad regex", RuleConfig{ID: "x", Category: "Email", Regex: `([a-z`}},
		{"unknown category", RuleConfig{ID: "x", Category: "Passport", Regex: `\d+`}},
		{"unknown validator", RuleConfig{ID: "x", Category: "Other", Regex: `\d+`, Validator: "mod11"}},
		{"empty match", RuleConfig{ID: "x", Category: "Other", Regex: `\d*`}},
		{"missing id", RuleConfig{Category: "Other", Regex: `\d+`}},
		{"score out of range", RuleConfig{ID: "x", Category: "Other", Regex: `\d+`, Score: 1.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileRules([]RuleConfig{tt.rule})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestCompileRulesDefaults(t *testing.T) {
	rules, err := CompileRules([]RuleConfig{{ID: "iban-x", Category: "iban", Regex: `[A-Z]{2}\d{2}`}})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, CategoryIBAN, rules[0].Category)
	assert.Equal(t, uint(18), rules[0].SeverityWeight)
	assert.Equal(t, defaultRuleScore, rules[0].Score)
}

func TestMergeRulesOverridesByID(t *testing.T) {
	disabled := false
	base := []RuleConfig{{ID: "a", Regex: "a"}, {ID: "b", Regex: "b"}}
	override := []RuleConfig{{ID: "b", Regex: "bb", Enabled: &disabled}, {ID: "c", Regex: "c"}}

	merged := MergeRules(base, override)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].ID)
	assert.Equal(t, "bb", merged[1].Regex)
	assert.False(t, merged[1].isEnabled())
	assert.Equal(t, "c", merged[2].ID)
}

func TestFilterRules(t *testing.T) {
	lib := MustDefaultLibrary()

	t.Run("all", func(t *testing.T) {
		rules, err := FilterRules(lib.Rules(), []string{"all"})
		require.NoError(t, err)
		assert.Len(t, rules, lib.Len())
	})

	t.Run("subset keeps order", func(t *testing.T) {
		rules, err := FilterRules(lib.Rules(), []string{"iban", "email"})
		require.NoError(t, err)
		require.Len(t, rules, 2)
		assert.Equal(t, "email", rules[0].ID)
		assert.Equal(t, "iban", rules[1].ID)
	})

	t.Run("unknown rule", func(t *testing.T) {
		_, err := FilterRules(lib.Rules(), []string{"passport"})
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestNewLibraryWithPatternFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	content := `rules:
  - id: ip-address
    category: Other
    regex: '\b10\.\d+\.\d+\.\d+\b'
    enabled: false
  - id: employee-id
    category: Other
    weight: 7
    regex: '\bEMP-\d{6}\b'
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	lib, err := NewLibrary(LibraryConfig{PatternFile: path})
	require.NoError(t, err)

	_, ok := lib.Rule("ip-address")
	assert.False(t, ok, "disabled override should remove the rule")

	emp, ok := lib.Rule("employee-id")
	require.True(t, ok)
	assert.Equal(t, uint(7), emp.SeverityWeight)

	text := "badge EMP-123456"
	findings, err := Normalize(text, NewDetector(lib, logger.NewNop()).Detect(text))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	score, _ := Score(findings)
	assert.Equal(t, CategoryWeight(CategoryOther), score, "rule weight does not change the score")

	t.Run("enabling a disabled rule", func(t *testing.T) {
		_, err := NewLibrary(LibraryConfig{PatternFile: path, Enabled: []string{"email", "ip-address"}})
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.ErrorContains(t, err, "enabled: false")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewLibrary(LibraryConfig{PatternFile: filepath.Join(dir, "nope.yaml")})
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("rules: [: nope"), 0o600))
		_, err := NewLibrary(LibraryConfig{PatternFile: bad})
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
