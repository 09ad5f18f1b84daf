package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizePersonName normalizes a name for comparison (lowercase, no diacritics, spaces for dashes).
func NormalizePersonName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// PersonNameKey returns the uniqueness key of a person name. Only case is
// folded: "Jiří" and "Jiri" are different people, "Bob" and "BOB" are not.
func PersonNameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// MatchesPersonName reports whether query occurs in name, ignoring case,
// diacritics and dashes. An empty query matches every name.
func MatchesPersonName(name, query string) bool {
	return strings.Contains(NormalizePersonName(name), NormalizePersonName(strings.TrimSpace(query)))
}
