package application

import "strings"

// matchWakePhrase reports the first configured phrase contained in text, ignoring case
// and punctuation.
func matchWakePhrase(text string, phrases []string) (string, bool) {
	norm := normalize(text)
	if norm == "" {
		return "", false
	}
	for _, p := range phrases {
		if np := normalize(p); np != "" && strings.Contains(norm, np) {
			return p, true
		}
	}
	return "", false
}
