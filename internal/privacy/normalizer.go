package privacy

import (
	"fmt"
	"math"
	"strings"
)

// labelCategories maps recognizer labels (Presidio entity names and the short
// names LLM prompts return) to categories. Labels are looked up upper-cased
// with '-' and ' ' folded to '_'.
var labelCategories = map[string]Category{
	"PERSON":         CategoryName,
	"EMAIL_ADDRESS":  CategoryEmail,
	"PHONE_NUMBER":   CategoryPhone,
	"CREDIT_CARD":    CategoryCreditCard,
	"IBAN_CODE":      CategoryIBAN,
	"LOCATION":       CategoryAddress,
	"DATE_TIME":      CategoryDateOfBirth,
	"DATE_OF_BIRTH":  CategoryDateOfBirth,
	"NATIONAL_ID":    CategoryNationalID,
	"TR_NATIONAL_ID": CategoryNationalID,
	"TC_KIMLIK":      CategoryNationalID,
	"ORGANIZATION":   CategoryOther,
	"US_BANK_NUMBER": CategoryOther,
	"IP_ADDRESS":     CategoryOther,
}

func init() {
	for _, c := range Categories {
		labelCategories[strings.ToUpper(string(c))] = c
	}
}

// CategoryForLabel maps a recognizer label to a category. Unknown labels
// degrade to CategoryOther.
func CategoryForLabel(label string) Category {
	key := strings.ToUpper(strings.TrimSpace(label))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if c, ok := labelCategories[key]; ok {
		return c
	}
	return CategoryOther
}

func resolveCategory(e RawEntity) Category {
	if e.Label != "" {
		return CategoryForLabel(e.Label)
	}
	if e.Category.Valid() {
		return e.Category
	}
	return CategoryOther
}

// ConfidencePercent scales a [0,1] confidence to an integer percentage clamped
// to [0,100].
func ConfidencePercent(confidence float64) int {
	if math.IsNaN(confidence) {
		return 0
	}
	p := math.Round(confidence * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}

// FindingID derives the stable identifier of a finding from its category, its
// index among same-category findings and its confidence.
func FindingID(category Category, index int, confidence float64) string {
	if math.IsNaN(confidence) || confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return fmt.Sprintf("%s-%d-%d", category, index, int(math.Round(confidence*1000)))
}

// Explain synthesizes the explanation used when a source provides none.
func Explain(p Provenance, c Category) string {
	return fmt.Sprintf("%s predicted %s", p.Label(), c)
}

// Normalize converts one or more raw entity sequences into findings for text.
// Sequences are concatenated in argument order and entity order is kept. No
// deduplication happens across sources. Values are re-sliced from text so a
// finding always matches its offsets; an entity whose span falls outside text
// fails with ErrInvalidSpan.
func Normalize(text string, batches ...[]RawEntity) ([]Finding, error) {
	runes := []rune(text)
	perCategory := make(map[Category]int)
	findings := make([]Finding, 0)

	for _, batch := range batches {
		for _, e := range batch {
			if e.Start < 0 || e.End <= e.Start || e.End > len(runes) {
				return nil, fmt.Errorf("%w: [%d,%d) in text of %d characters", ErrInvalidSpan, e.Start, e.End, len(runes))
			}

			category := resolveCategory(e)
			provenance := e.Provenance
			if provenance == "" {
				provenance = ProvenanceExternalRecognizer
			}

			explanation := e.Explanation
			if explanation == "" {
				explanation = Explain(provenance, category)
			}

			index := perCategory[category]
			perCategory[category]++

			findings = append(findings, Finding{
				ID:          FindingID(category, index, e.Confidence),
				Category:    category,
				Value:       string(runes[e.Start:e.End]),
				Start:       e.Start,
				End:         e.End,
				Confidence:  ConfidencePercent(e.Confidence),
				Provenance:  provenance,
				Explanation: explanation,
			})
		}
	}

	return findings, nil
}

// DistinctCategories counts the categories present in findings.
func DistinctCategories(findings []Finding) int {
	seen := make(map[Category]bool)
	for _, f := range findings {
		seen[f.Category] = true
	}
	return len(seen)
}
