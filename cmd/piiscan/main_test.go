package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/batch"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

const cardText = "Kart: 4539148803436467, TC: 10000000146"

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(io.Discard)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeDataset(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeResults(t *testing.T, out string) []batch.Result {
	t.Helper()
	var results []batch.Result
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r batch.Result
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		results = append(results, r)
	}
	return results
}

func TestMaskStdin(t *testing.T) {
	out, _, err := run(t, cardText, "mask")
	require.NoError(t, err)
	assert.Equal(t, "Kart: [Kredi Kartı], TC: [TC Kimlik]", out)
}

func TestMaskTextEnglish(t *testing.T) {
	out, _, err := run(t, "", "mask", "--locale", "en", "--text", "mail ahmet@bank.com")
	require.NoError(t, err)
	assert.Equal(t, "mail [Email]", out)
}

func TestMaskJSON(t *testing.T) {
	out, _, err := run(t, "", "mask", "--json", "--text", cardText)
	require.NoError(t, err)

	var a privacy.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, 53, a.RiskScore)
	assert.Equal(t, privacy.RiskMedium, a.RiskLevel)
	assert.Len(t, a.Findings, 2)
	assert.Equal(t, "Kart: [Kredi Kartı], TC: [TC Kimlik]", a.MaskedText)
}

func TestMaskBadLocale(t *testing.T) {
	_, _, err := run(t, "", "mask", "--locale", "de", "--text", "x")
	assert.Error(t, err)
}

func TestRules(t *testing.T) {
	out, _, err := run(t, "", "rules")
	require.NoError(t, err)
	assert.Contains(t, out, "email")
	assert.Contains(t, out, "credit-card")
	assert.Contains(t, out, "luhn")
}

func TestScanCSV(t *testing.T) {
	path := writeDataset(t, "in.csv", "id,text\n1,\"Contact: ahmet@bank.com\"\n2,\""+cardText+"\"\n3,nothing here\n")

	out, stderr, err := run(t, "", "scan", path, "--workers", "2")
	require.NoError(t, err)

	results := decodeResults(t, out)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Row)
	assert.Equal(t, "Contact: [E-posta]", results[0].MaskedText)
	assert.Equal(t, 53, results[1].RiskScore)
	assert.Equal(t, map[string]int{"CreditCard": 1, "NationalID": 1}, results[1].Categories)
	assert.Equal(t, 0, results[2].FindingCount)

	assert.Contains(t, stderr, "3 records")
	assert.Contains(t, stderr, "with PII: 2")
}

func TestScanJSONLinesToFile(t *testing.T) {
	path := writeDataset(t, "in.jsonl", `{"text":"mail ahmet@bank.com"}`+"\n"+`{"text":"clean"}`+"\n")
	output := filepath.Join(t.TempDir(), "out.jsonl")

	out, _, err := run(t, "", "scan", path, "--output", output, "--no-masked")
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	results := decodeResults(t, string(data))
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].FindingCount)
	assert.Empty(t, results[0].MaskedText)
	assert.NotContains(t, string(data), "ahmet@bank.com")
}

func TestScanErrors(t *testing.T) {
	_, _, err := run(t, "", "scan")
	assert.Error(t, err, "file argument is required")

	_, _, err = run(t, "", "scan", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)

	_, _, err = run(t, "", "scan", writeDataset(t, "in.txt", "hello"))
	assert.Error(t, err)
}
