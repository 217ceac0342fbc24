package proxy

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// cityAliases maps normalized spellings to the canonical names the upstream
// recognizes. Users type these in freely, so common variants are folded.
var cityAliases = map[string]string{
	"yadbinyamin": "Yad Binyamin",
	"telaviv":     "Tel Aviv - Yafo",
	"telavivyafo": "Tel Aviv - Yafo",
	"jerusalem":   "Jerusalem",
	"beersheva":   "Be'er Sheva",
	"beersheba":   "Be'er Sheva",
	"haifa":       "Haifa",
	"ashkelon":    "Ashkelon",
	"ashdod":      "Ashdod",
}

// stripAccents removes combining marks so accented variants normalize to the
// same key.
func stripAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	res, _, _ := transform.String(t, s)
	return res
}

func normCityKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripAccents(s)
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "'", "")
	s = strings.Join(strings.Fields(s), "")
	return s
}

// CanonicalCity resolves a user-entered city name: empty falls back to the
// default, known alias spellings map to the canonical upstream name, and
// anything else passes through trimmed so unknown cities still reach the
// upstream verbatim.
func CanonicalCity(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return DefaultCity
	}
	if canon, ok := cityAliases[normCityKey(trimmed)]; ok {
		return canon
	}
	return trimmed
}
