// Package patterns provides the embedded default pattern library.
package patterns

import _ "embed"

//go:embed pii_default.yaml
var defaultYAML []byte

// DefaultYAML returns the embedded default PII rule definitions.
func DefaultYAML() []byte { return defaultYAML }
