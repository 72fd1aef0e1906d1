package privacy

import (
	"errors"
	"strings"
)

// Category is the canonical PII category of a finding.
type Category string

const (
	CategoryEmail       Category = "Email"
	CategoryPhone       Category = "Phone"
	CategoryNationalID  Category = "NationalID"
	CategoryIBAN        Category = "IBAN"
	CategoryCreditCard  Category = "CreditCard"
	CategoryName        Category = "Name"
	CategoryAddress     Category = "Address"
	CategoryDateOfBirth Category = "DOB"
	CategoryOther       Category = "Other"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryEmail,
	CategoryPhone,
	CategoryNationalID,
	CategoryIBAN,
	CategoryCreditCard,
	CategoryName,
	CategoryAddress,
	CategoryDateOfBirth,
	CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory resolves a canonical category name, ignoring case.
func ParseCategory(name string) (Category, bool) {
	for _, known := range Categories {
		if strings.EqualFold(name, string(known)) {
			return known, true
		}
	}
	return "", false
}

// Provenance identifies which entity source produced a raw entity.
type Provenance string

const (
	ProvenanceLocalRule          Provenance = "local"
	ProvenanceExternalRecognizer Provenance = "presidio"
	ProvenanceLLMFallback        Provenance = "llm"
)

// Label returns the human readable source name used in synthesized explanations.
func (p Provenance) Label() string {
	switch p {
	case ProvenanceLocalRule:
		return "Local rule engine"
	case ProvenanceLLMFallback:
		return "LLM fallback"
	default:
		return "Presidio recognizer"
	}
}

// RawEntity is a located detection as reported by an entity source, before
// normalization. Start and End are half-open code point offsets.
type RawEntity struct {
	Category    Category   `json:"category,omitempty"`
	Label       string     `json:"label,omitempty"` // source-native type, e.g. EMAIL_ADDRESS
	Text        string     `json:"text"`
	Start       int        `json:"start"`
	End         int        `json:"end"`
	Confidence  float64    `json:"confidence"`
	Provenance  Provenance `json:"provenance"`
	Explanation string     `json:"explanation,omitempty"`
}

// Finding is one normalized detection. Value always equals the text between
// Start and End (code points) of the analyzed input.
type Finding struct {
	ID          string     `json:"id"`
	Category    Category   `json:"type"`
	Value       string     `json:"value"`
	Start       int        `json:"start"`
	End         int        `json:"end"`
	Confidence  int        `json:"confidence"`
	Provenance  Provenance `json:"source"`
	Explanation string     `json:"explanation"`
}

// RiskLevel is the three-tier classification of a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// TraceStep records one pipeline stage for observability.
type TraceStep struct {
	Stage     string  `json:"stage"`
	Detail    string  `json:"detail"`
	ElapsedMs float64 `json:"elapsedMs"`
}

// Analysis is the result of analyzing one text. It is not modified after it is
// returned; further masking selections go through Mask.
type Analysis struct {
	RiskScore          int         `json:"riskScore"`
	RiskLevel          RiskLevel   `json:"riskLevel"`
	Findings           []Finding   `json:"findings"`
	MaskedText         string      `json:"maskedText,omitempty"`
	DistinctCategories int         `json:"distinctTypes"`
	Trace              []TraceStep `json:"trace"`
}

// EmptyAnalysis is the result for blank input.
func EmptyAnalysis() *Analysis {
	return &Analysis{
		RiskScore: 0,
		RiskLevel: RiskLow,
		Findings:  []Finding{},
		Trace:     []TraceStep{},
	}
}

// CategoryCounts returns the number of findings per category.
func (a *Analysis) CategoryCounts() map[Category]int {
	counts := make(map[Category]int)
	for _, f := range a.Findings {
		counts[f.Category]++
	}
	return counts
}

var (
	// ErrConfiguration marks a malformed pattern library. It is fatal at startup.
	ErrConfiguration = errors.New("invalid pattern configuration")

	// ErrInvalidSpan marks an entity whose offsets fall outside the analyzed text.
	ErrInvalidSpan = errors.New("entity span out of range")
)
