package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// CollapseWhitespace trims the string and squeezes inner runs of
// whitespace down to a single space.
func CollapseWhitespace(s string) string {
	s = strings.Trim(s, " \n\t ")
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// FoldDigits rewrites Persian (۰-۹) and Arabic-Indic (٠-٩) digits to
// their ASCII equivalents. The portal mixes all three forms freely, so
// every numeric match runs on folded text.
func FoldDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '۰' && r <= '۹':
			b.WriteRune('0' + (r - '۰'))
		case r >= '٠' && r <= '٩':
			b.WriteRune('0' + (r - '٠'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeArabicLetters maps the Arabic forms of kaf and yeh to their
// Persian forms so marker strings match either spelling.
func NormalizeArabicLetters(s string) string {
	s = strings.ReplaceAll(s, "ك", "ک") // ك -> ک
	s = strings.ReplaceAll(s, "ي", "ی") // ي -> ی
	return s
}
