package privacy

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/raaihank/pii-sentinel/patterns"
)

// RuleFile is the YAML layout of a pattern library file.
type RuleFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig is the declarative form of a PatternRule.
type RuleConfig struct {
	ID          string  `yaml:"id" json:"id"`
	Category    string  `yaml:"category" json:"category"`
	Weight      uint    `yaml:"weight,omitempty" json:"weight,omitempty"`
	Score       float64 `yaml:"score,omitempty" json:"score,omitempty"`
	Regex       string  `yaml:"regex" json:"regex"`
	Validator   string  `yaml:"validator,omitempty" json:"validator,omitempty"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

func (r *RuleConfig) isEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// PatternRule is a compiled detector for one PII category.
type PatternRule struct {
	ID       string
	Category Category
	// SeverityWeight is informational and shown in rule listings. Risk
	// scores always use CategoryWeight, so a YAML weight does not change them.
	SeverityWeight uint
	Score          float64
	Description    string
	Matcher        *regexp.Regexp
	Validator      Validator
	ValidatorName  string
}

// Accept reports whether match passes the rule's validator.
func (r PatternRule) Accept(match string) bool {
	return r.Validator == nil || r.Validator(match)
}

// defaultRuleScore is used when a rule file omits a score.
const defaultRuleScore = 0.85

// ParseRuleFile parses pattern library YAML.
func ParseRuleFile(data []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: parsing rule YAML: %v", ErrConfiguration, err)
	}
	return &rf, nil
}

// LoadRuleFile reads and parses a pattern library file from disk.
func LoadRuleFile(path string) (*RuleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading rule file %s: %v", ErrConfiguration, path, err)
	}
	return ParseRuleFile(data)
}

// DefaultRuleConfigs returns the rule definitions embedded in the binary.
func DefaultRuleConfigs() ([]RuleConfig, error) {
	rf, err := ParseRuleFile(patterns.DefaultYAML())
	if err != nil {
		return nil, err
	}
	return rf.Rules, nil
}

// MergeRules layers rule definitions. A later layer replaces an earlier rule
// with the same ID; new IDs are appended, so rule order stays stable.
func MergeRules(layers ...[]RuleConfig) []RuleConfig {
	index := make(map[string]int)
	var merged []RuleConfig

	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.ID]; exists {
				merged[idx] = rc
				continue
			}
			index[rc.ID] = len(merged)
			merged = append(merged, rc)
		}
	}
	return merged
}

// CompileRules turns rule definitions into runnable rules. Disabled rules are
// skipped. Any malformed definition fails the whole library.
func CompileRules(configs []RuleConfig) ([]PatternRule, error) {
	rules := make([]PatternRule, 0, len(configs))
	seen := make(map[string]bool)

	for _, rc := range configs {
		if rc.ID == "" {
			return nil, fmt.Errorf("%w: rule without id", ErrConfiguration)
		}
		if seen[rc.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %q", ErrConfiguration, rc.ID)
		}
		seen[rc.ID] = true

		if !rc.isEnabled() {
			continue
		}

		category, ok := ParseCategory(rc.Category)
		if !ok {
			return nil, fmt.Errorf("%w: rule %q has unknown category %q", ErrConfiguration, rc.ID, rc.Category)
		}

		matcher, err := regexp.Compile(rc.Regex)
		if err != nil {
			return nil, fmt.Errorf("%w: compiling rule %q: %v", ErrConfiguration, rc.ID, err)
		}
		if rc.Regex == "" || matcher.MatchString("") {
			return nil, fmt.Errorf("%w: rule %q matches the empty string", ErrConfiguration, rc.ID)
		}

		validator, ok := lookupValidator(rc.Validator)
		if !ok {
			return nil, fmt.Errorf("%w: rule %q has unknown validator %q", ErrConfiguration, rc.ID, rc.Validator)
		}

		score := rc.Score
		if score == 0 {
			score = defaultRuleScore
		}
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("%w: rule %q score %.2f outside [0,1]", ErrConfiguration, rc.ID, score)
		}

		weight := rc.Weight
		if weight == 0 {
			weight = uint(CategoryWeight(category))
		}

		rules = append(rules, PatternRule{
			ID:             rc.ID,
			Category:       category,
			SeverityWeight: weight,
			Score:          score,
			Description:    rc.Description,
			Matcher:        matcher,
			Validator:      validator,
			ValidatorName:  rc.Validator,
		})
	}

	return rules, nil
}

// Library is an immutable, compiled set of pattern rules.
type Library struct {
	rules []PatternRule
}

// LibraryConfig selects and extends the default rules.
type LibraryConfig struct {
	// PatternFile is an optional YAML file layered over the embedded defaults.
	PatternFile string
	// Enabled lists rule IDs to run; "all" or an empty list enables every rule.
	Enabled []string
}

// NewLibrary builds the pattern library. Errors wrap ErrConfiguration.
func NewLibrary(cfg LibraryConfig) (*Library, error) {
	defaults, err := DefaultRuleConfigs()
	if err != nil {
		return nil, err
	}

	layers := [][]RuleConfig{defaults}
	if cfg.PatternFile != "" {
		rf, err := LoadRuleFile(cfg.PatternFile)
		if err != nil {
			return nil, err
		}
		layers = append(layers, rf.Rules)
	}

	merged := MergeRules(layers...)
	compiled, err := CompileRules(merged)
	if err != nil {
		return nil, err
	}
	if err := checkNotDisabled(merged, cfg.Enabled); err != nil {
		return nil, err
	}

	selected, err := FilterRules(compiled, cfg.Enabled)
	if err != nil {
		return nil, err
	}

	return &Library{rules: selected}, nil
}

// MustDefaultLibrary returns the embedded library with every rule enabled. It
// panics if the embedded definitions do not compile.
func MustDefaultLibrary() *Library {
	lib, err := NewLibrary(LibraryConfig{})
	if err != nil {
		panic(fmt.Sprintf("privacy.NewLibrary: %v", err))
	}
	return lib
}

// FilterRules keeps the rules named in enabled. "all" keeps everything and may
// be combined with nothing else meaningful; an unknown ID is an error.
func FilterRules(rules []PatternRule, enabled []string) ([]PatternRule, error) {
	if len(enabled) == 0 {
		return rules, nil
	}

	wanted := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		if id == "all" {
			return rules, nil
		}
		wanted[id] = true
	}

	known := make(map[string]bool, len(rules))
	var filtered []PatternRule
	for _, r := range rules {
		known[r.ID] = true
		if wanted[r.ID] {
			filtered = append(filtered, r)
		}
	}

	for id := range wanted {
		if !known[id] {
			return nil, fmt.Errorf("%w: unknown rule %q", ErrConfiguration, id)
		}
	}

	return filtered, nil
}

// checkNotDisabled rejects enabled IDs whose definition sets enabled: false.
func checkNotDisabled(configs []RuleConfig, enabled []string) error {
	for _, id := range enabled {
		for _, rc := range configs {
			if rc.ID == id && !rc.isEnabled() {
				return fmt.Errorf("%w: rule %q is listed as enabled but its definition sets enabled: false", ErrConfiguration, id)
			}
		}
	}
	return nil
}

// Rules returns a copy of the compiled rules in evaluation order.
func (l *Library) Rules() []PatternRule {
	out := make([]PatternRule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Rule looks up a rule by ID.
func (l *Library) Rule(id string) (PatternRule, bool) {
	for _, r := range l.rules {
		if r.ID == id {
			return r, true
		}
	}
	return PatternRule{}, false
}

// Len returns the number of enabled rules.
func (l *Library) Len() int {
	return len(l.rules)
}
