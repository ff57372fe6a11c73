package tokenizer

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// abbreviations are matched after lowercasing and must end with a period.
	abbreviations = []struct {
		re   *regexp.Regexp
		full string
	}{
		{regexp.MustCompile(`\bmrs\.`), "misess"},
		{regexp.MustCompile(`\bmr\.`), "mister"},
		{regexp.MustCompile(`\bdrs\.`), "doctors"},
		{regexp.MustCompile(`\bdr\.`), "doctor"},
		{regexp.MustCompile(`\bst\.`), "saint"},
		{regexp.MustCompile(`\bco\.`), "company"},
		{regexp.MustCompile(`\bjr\.`), "junior"},
		{regexp.MustCompile(`\bmaj\.`), "major"},
		{regexp.MustCompile(`\bgen\.`), "general"},
		{regexp.MustCompile(`\brev\.`), "reverend"},
		{regexp.MustCompile(`\blt\.`), "lieutenant"},
		{regexp.MustCompile(`\bhon\.`), "honorable"},
		{regexp.MustCompile(`\bsgt\.`), "sergeant"},
		{regexp.MustCompile(`\bcapt\.`), "captain"},
		{regexp.MustCompile(`\besq\.`), "esquire"},
		{regexp.MustCompile(`\bltd\.`), "limited"},
		{regexp.MustCompile(`\bcol\.`), "colonel"},
		{regexp.MustCompile(`\bft\.`), "fort"},
	}
)

// CleanEnglish normalizes a transcript for the character tokenizer: accents are
// stripped, letters lowercased, abbreviations and numbers spelled out, and runs of
// whitespace collapsed to one space.
func CleanEnglish(text string) string {
	text = stripAccents(text)
	text = strings.ToLower(text)
	text = expandNumbers(text)
	for _, a := range abbreviations {
		text = a.re.ReplaceAllString(text, a.full)
	}
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func stripAccents(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
