package matching

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// Regex to extract numeric values (handles "1.5" and "1,5")
	numberRegex = regexp.MustCompile(`\d+[,.]?\d*`)

	// Hyphens and underscores become spaces before stripping punctuation,
	// so "pick-up" and "pick up" normalize identically
	separatorRegex = regexp.MustCompile(`[-_]+`)
)

// Normalize normalizes a string for comparison. Lowercases, removes accents,
// keeps only alphanumerics, spaces and the dot (engine displacements like
// "1.5"), and collapses whitespace. Idempotent; empty input stays empty.
func Normalize(s string) string {
	// Convert to lowercase
	s = strings.ToLower(s)

	// Remove accents
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)

	// Separators become spaces
	s = separatorRegex.ReplaceAllString(s, " ")

	// Drop everything outside the comparable character set
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || r == '.' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s = b.String()

	// Collapse whitespace and trim
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeNumber normalizes number format (1,5 → 1.5)
func NormalizeNumber(s string) string {
	return strings.ReplaceAll(s, ",", ".")
}

// ExtractNumbers extracts all numeric tokens from a string
func ExtractNumbers(s string) []string {
	return numberRegex.FindAllString(s, -1)
}
