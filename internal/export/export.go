// Package export renders an analysis as the downloadable JSON report.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Document is the exported report of one analysis.
type Document struct {
	SessionID          string              `json:"sessionId"`
	Locale             string              `json:"locale"`
	GeneratedAt        time.Time           `json:"generatedAt"`
	RiskScore          int                 `json:"riskScore"`
	RiskLevel          privacy.RiskLevel   `json:"riskLevel"`
	Findings           []privacy.Finding   `json:"findings"`
	MaskedText         string              `json:"maskedText"`
	DistinctCategories int                 `json:"distinctTypes"`
	Trace              []privacy.TraceStep `json:"trace"`
}

// New builds a report. maskedText is the caller's rendering of the current
// masking selection, which may differ from a.MaskedText.
func New(sessionID, locale string, a *privacy.Analysis, maskedText string, generatedAt time.Time) *Document {
	findings := a.Findings
	if findings == nil {
		findings = []privacy.Finding{}
	}
	trace := a.Trace
	if trace == nil {
		trace = []privacy.TraceStep{}
	}

	return &Document{
		SessionID:          sessionID,
		Locale:             locale,
		GeneratedAt:        generatedAt.UTC(),
		RiskScore:          a.RiskScore,
		RiskLevel:          a.RiskLevel,
		Findings:           findings,
		MaskedText:         maskedText,
		DistinctCategories: a.DistinctCategories,
		Trace:              trace,
	}
}

// FileName is the suggested download name, pii-analysis-<session>.json.
// Characters outside [A-Za-z0-9_-] are dropped from the session id.
func (d *Document) FileName() string {
	session := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, d.SessionID)

	if session == "" {
		return "pii-analysis.json"
	}
	return fmt.Sprintf("pii-analysis-%s.json", session)
}

// Write encodes the document as indented JSON.
func (d *Document) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode export document: %w", err)
	}
	return nil
}
