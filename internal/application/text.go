package application

import (
	"strings"
	"unicode"
)

// normalize lowercases s and reduces it to space-separated words of letters and digits.
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

type matcher func(norm string) bool

// anyOf matches when one of the keywords occurs on word boundaries. A trailing "*"
// matches any word starting with the stem.
func anyOf(keywords ...string) matcher {
	type keyword struct {
		text   string
		prefix bool
	}
	compiled := make([]keyword, 0, len(keywords))
	for _, k := range keywords {
		prefix := strings.HasSuffix(k, "*")
		text := normalize(strings.TrimSuffix(k, "*"))
		if text == "" {
			continue
		}
		compiled = append(compiled, keyword{text: text, prefix: prefix})
	}

	return func(norm string) bool {
		if norm == "" {
			return false
		}
		padded := " " + norm + " "
		for _, k := range compiled {
			if k.prefix {
				if strings.Contains(padded, " "+k.text) {
					return true
				}
				continue
			}
			if strings.Contains(padded, " "+k.text+" ") {
				return true
			}
		}
		return false
	}
}

func allOf(ms ...matcher) matcher {
	return func(norm string) bool {
		for _, m := range ms {
			if !m(norm) {
				return false
			}
		}
		return len(ms) > 0
	}
}

func oneOf(ms ...matcher) matcher {
	return func(norm string) bool {
		for _, m := range ms {
			if m(norm) {
				return true
			}
		}
		return false
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
