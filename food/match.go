package food

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// normalizeText folds case, composes Unicode, strips Arabic diacritics and
// tatweel, and collapses whitespace so keywords compare reliably.
func normalizeText(s string) string {
	s = cases.Fold().String(norm.NFC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case r >= 0x064B && r <= 0x0652, r == 0x0670, r == 0x0640:
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// containsKeyword reports whether the normalized name contains the normalized
// keyword as a substring. Occurrences inside any of the exclude words do not count.
func containsKeyword(name, kw string, exclude []string) bool {
	if kw == "" {
		return false
	}
	for _, w := range exclude {
		name = strings.ReplaceAll(name, w, " ")
	}
	return strings.Contains(name, kw)
}

// keywordSet is a list of normalized keywords with their exclusions.
type keywordSet struct {
	words   []string
	exclude map[string][]string
}

func newKeywordSet(words []string, exclusions map[string][]string) keywordSet {
	k := keywordSet{words: make([]string, 0, len(words)), exclude: exclusions}
	seen := map[string]bool{}
	for _, w := range words {
		n := normalizeText(w)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		k.words = append(k.words, n)
	}
	return k
}

// match returns the first keyword found in the normalized name.
func (k keywordSet) match(name string) (string, bool) {
	for _, kw := range k.words {
		if containsKeyword(name, kw, k.exclude[kw]) {
			return kw, true
		}
	}
	return "", false
}
