package privacy

import (
	"sort"
	"strings"
)

// TokenTable maps each category to the placeholder that replaces masked values.
type TokenTable map[Category]string

var maskTokens = map[string]TokenTable{
	"tr": {
		CategoryEmail:       "[E-posta]",
		CategoryPhone:       "[Telefon]",
		CategoryNationalID:  "[TC Kimlik]",
		CategoryIBAN:        "[IBAN]",
		CategoryCreditCard:  "[Kredi Kartı]",
		CategoryName:        "[Ad Soyad]",
		CategoryAddress:     "[Adres]",
		CategoryDateOfBirth: "[Doğum Tarihi]",
		CategoryOther:       "[PII]",
	},
	"en": {
		CategoryEmail:       "[Email]",
		CategoryPhone:       "[Phone]",
		CategoryNationalID:  "[National ID]",
		CategoryIBAN:        "[IBAN]",
		CategoryCreditCard:  "[Credit Card]",
		CategoryName:        "[Name]",
		CategoryAddress:     "[Address]",
		CategoryDateOfBirth: "[Date of Birth]",
		CategoryOther:       "[PII]",
	},
}

// DefaultLocale selects the token table used by Mask.
const DefaultLocale = "tr"

// Tokens returns the token table for a locale.
func Tokens(locale string) (TokenTable, bool) {
	t, ok := maskTokens[strings.ToLower(locale)]
	return t, ok
}

// Locales lists the supported token locales.
func Locales() []string {
	out := make([]string, 0, len(maskTokens))
	for l := range maskTokens {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Token returns the placeholder for c, falling back to the Other token.
func (t TokenTable) Token(c Category) string {
	if tok, ok := t[c]; ok {
		return tok
	}
	return t[CategoryOther]
}

// IDSet is a set of finding IDs selected for masking.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// AllIDs selects every finding.
func AllIDs(findings []Finding) IDSet {
	s := make(IDSet, len(findings))
	for _, f := range findings {
		s[f.ID] = struct{}{}
	}
	return s
}

// Has reports whether id is selected.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Mask renders text with the selected findings replaced by their category
// token from the default locale.
func Mask(text string, findings []Finding, ids IDSet) string {
	return MaskWith(maskTokens[DefaultLocale], text, findings, ids)
}

// MaskAll masks every finding.
func MaskAll(text string, findings []Finding) string {
	return Mask(text, findings, AllIDs(findings))
}

// MaskWith renders text with the findings in ids replaced by tokens.
//
// Findings are walked in ascending start order (stable, so discovery order
// breaks ties) with a cursor over the code points of text. Text between
// findings is copied verbatim. A finding that starts before the cursor lies
// inside an already emitted span and is skipped, so overlapping findings never
// duplicate or drop characters. Findings whose span does not fit text are
// ignored. Unselected findings are copied from text itself.
func MaskWith(tokens TokenTable, text string, findings []Finding, ids IDSet) string {
	if strings.TrimSpace(text) == "" || len(ids) == 0 {
		return text
	}

	runes := []rune(text)
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start < ordered[j].Start
	})

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0

	for _, f := range ordered {
		if f.Start < cursor || f.Start < 0 || f.End <= f.Start || f.End > len(runes) {
			continue
		}
		if cursor < f.Start {
			b.WriteString(string(runes[cursor:f.Start]))
		}
		if ids.Has(f.ID) {
			b.WriteString(tokens.Token(f.Category))
		} else {
			b.WriteString(string(runes[f.Start:f.End]))
		}
		cursor = f.End
	}

	if cursor < len(runes) {
		b.WriteString(string(runes[cursor:]))
	}

	return b.String()
}
