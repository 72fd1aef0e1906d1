package privacy

import "strings"

// Validator accepts or rejects the text matched by a pattern rule. Validators
// must be pure.
type Validator func(match string) bool

// validators maps the names usable in a pattern file to their implementation.
// An empty name or "none" means the rule has no validator.
var validators = map[string]Validator{
	"luhn":  ValidLuhn,
	"iban":  ValidIBAN,
	"phone": validPhone,
}

func lookupValidator(name string) (Validator, bool) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, true
	}
	v, ok := validators[strings.ToLower(name)]
	return v, ok
}

// ValidLuhn reports whether the digits of s pass the Luhn checksum (ISO/IEC 7812).
// Non-digit characters are ignored; fewer than 12 digits is rejected.
func ValidLuhn(s string) bool {
	digits := stripNonDigits(s)
	if len(digits) < 12 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ValidIBAN checks the ISO 13616 MOD-97 check digits. Spaces are ignored and
// letters may be in either case.
func ValidIBAN(s string) bool {
	iban := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(iban) < 5 || len(iban) > 34 {
		return false
	}

	rearranged := iban[4:] + iban[:4]
	remainder := 0
	for i := 0; i < len(rearranged); i++ {
		ch := rearranged[i]
		switch {
		case ch >= '0' && ch <= '9':
			remainder = (remainder*10 + int(ch-'0')) % 97
		case ch >= 'A' && ch <= 'Z':
			v := int(ch-'A') + 10
			remainder = (remainder*100 + v) % 97
		default:
			return false
		}
	}
	return remainder == 1
}

// validPhone rejects separator-heavy digit runs that are too short or too long
// to be a dialable number.
func validPhone(s string) bool {
	n := len(stripNonDigits(s))
	return n >= 10 && n <= 15
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}
