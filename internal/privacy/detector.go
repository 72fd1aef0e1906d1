package privacy

import (
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/logger"
)

// Detector runs a pattern library over text.
type Detector struct {
	library *Library
	logger  *logger.Logger
}

// NewDetector creates a detector for the given library.
func NewDetector(lib *Library, log *logger.Logger) *Detector {
	log.Info("Local detector initialized",
		zap.Int("enabled_rules", lib.Len()),
	)

	return &Detector{
		library: lib,
		logger:  log,
	}
}

// Detect applies every rule independently over the whole text and returns the
// accepted matches in rule order, then match order. Overlapping matches from
// different rules are all kept.
func (d *Detector) Detect(text string) []RawEntity {
	entities := make([]RawEntity, 0)
	if text == "" {
		return entities
	}

	for _, rule := range d.library.rules {
		matches := rule.Matcher.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}

		offsets := newRuneCounter(text)
		accepted := 0
		for _, m := range matches {
			value := text[m[0]:m[1]]
			if value == "" || !rule.Accept(value) {
				continue
			}

			start := offsets.at(m[0])
			end := offsets.at(m[1])
			entities = append(entities, RawEntity{
				Category:   rule.Category,
				Text:       value,
				Start:      start,
				End:        end,
				Confidence: rule.Score,
				Provenance: ProvenanceLocalRule,
			})
			accepted++
		}

		d.logger.Debug("Rule matched",
			zap.String("rule", rule.ID),
			zap.Int("matches", len(matches)),
			zap.Int("accepted", accepted),
		)
	}

	return entities
}

// Library returns the library the detector runs.
func (d *Detector) Library() *Library {
	return d.library
}

// runeCounter converts byte offsets into code point offsets. Calls must use
// non-decreasing byte offsets, which holds for the matches of a single rule.
type runeCounter struct {
	text     string
	lastByte int
	lastRune int
}

func newRuneCounter(text string) *runeCounter {
	return &runeCounter{text: text}
}

func (c *runeCounter) at(byteOffset int) int {
	if byteOffset < c.lastByte {
		c.lastByte, c.lastRune = 0, 0
	}
	c.lastRune += utf8.RuneCountInString(c.text[c.lastByte:byteOffset])
	c.lastByte = byteOffset
	return c.lastRune
}
