// Package sanitize redacts regulated personal data from extracted text
// before it is persisted, embedded or indexed.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// pattern pairs a PII type with its matcher. The list is applied in a fixed
// order on every call so identical input always produces identical output.
type pattern struct {
	name string
	re   *regexp.Regexp
}

var patterns = []pattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"phone", regexp.MustCompile(`\b(?:\+61|0)[2-478](?:[ -]?\d){8}\b`)},
	{"tfn", regexp.MustCompile(`\b\d{3}[ -]?\d{3}[ -]?\d{3}\b`)},
	{"abn", regexp.MustCompile(`\b\d{2}[ -]?\d{3}[ -]?\d{3}[ -]?\d{3}\b`)},
	{"credit_card", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{"bsb", regexp.MustCompile(`\b\d{3}[ -]?\d{3}\b`)},
	{"medicare", regexp.MustCompile(`\b\d{4}[ -]?\d{5}[ -]?\d\b`)},
}

// strataPattern redacts body-corporate identifiers that the generic PII set
// misses. The label prefix in the template survives redaction so documents
// stay readable after names are removed.
type strataPattern struct {
	name     string
	re       *regexp.Regexp
	template string
}

var strataPatterns = []strataPattern{
	{
		"lot_owner_name",
		regexp.MustCompile(`((?:Lot Owner|Owner|Proprietor):\s*)[A-Z][a-z]+\s+[A-Z][a-z]+`),
		"${1}[OWNER_NAME_REDACTED]",
	},
	{
		"unit_address",
		regexp.MustCompile(`Unit\s+\d+[A-Z]?/\d+\s+[A-Za-z ]+(?:Street|St|Road|Rd|Avenue|Ave)\b`),
		"[UNIT_ADDRESS_REDACTED]",
	},
}

// Sanitizer replaces every match of a fixed ordered set of PII patterns with
// a typed placeholder token. Redaction is lossy and one-directional.
type Sanitizer struct{}

func New() *Sanitizer { return &Sanitizer{} }

// Sanitize redacts text and returns it along with per-type match counts.
// Unmatched text passes through unchanged; placeholders contain neither
// digits nor '@', so sanitizing already-sanitized text is a no-op.
func (s *Sanitizer) Sanitize(text string) (string, map[string]int) {
	counts := make(map[string]int)
	for _, p := range patterns {
		placeholder := fmt.Sprintf("[%s_REDACTED]", strings.ToUpper(p.name))
		n := 0
		text = p.re.ReplaceAllStringFunc(text, func(string) string {
			n++
			return placeholder
		})
		if n > 0 {
			counts[p.name] = n
		}
	}
	for _, p := range strataPatterns {
		if n := len(p.re.FindAllStringIndex(text, -1)); n > 0 {
			counts[p.name] = n
			text = p.re.ReplaceAllString(text, p.template)
		}
	}
	return text, counts
}
