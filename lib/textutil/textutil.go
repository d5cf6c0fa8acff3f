package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName folds name and strips all whitespace so that markers
// match regardless of how the page happened to wrap or space its text.
func NormalizeName(name string) string {
	name = Fold(name)
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// MatchName reports whether the normalized name contains any of the
// normalized matchers.
func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		m = NormalizeName(m)
		if m == "" {
			continue
		}
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// CollapseSpace trims s and replaces every run of whitespace with a single
// space.
func CollapseSpace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

var turkishFold = strings.NewReplacer(
	"İ", "i", "I", "i", "ı", "i",
	"Ş", "s", "ş", "s",
	"Ğ", "g", "ğ", "g",
	"Ü", "u", "ü", "u",
	"Ö", "o", "ö", "o",
	"Ç", "c", "ç", "c",
)

// Fold lowercases s and maps turkish letters to their closest ascii letter,
// "İşlemde" and "Islemde" both fold to "islemde".
func Fold(s string) string {
	return strings.ToLower(turkishFold.Replace(CollapseSpace(s)))
}
