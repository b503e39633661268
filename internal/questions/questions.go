// Package questions keeps clarifying questions unique within a session and
// falls back to a static bank when the model repeats itself.
package questions

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQuestionLength bounds what counts as a clarifying question.
const MaxQuestionLength = 300

// ErrNoUniqueQuestion is returned by Resolve when every bank entry was asked.
var ErrNoUniqueQuestion = errors.New("no unique question available")

// Normalize lowercases q, collapses every run of non-alphanumeric characters
// to a single space and trims the result.
func Normalize(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	pendingSpace := false
	for _, r := range q {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// IsDuplicate reports whether candidate equals an asked question after
// normalization.
func IsDuplicate(candidate string, asked []string) bool {
	key := Normalize(candidate)
	for _, q := range asked {
		if Normalize(q) == key {
			return true
		}
	}
	return false
}

// IsQuestion reports whether s is short, has words and ends with a question
// mark. Only such strings take part in deduplication.
func IsQuestion(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > MaxQuestionLength {
		return false
	}
	return strings.HasSuffix(s, "?") && Normalize(s) != ""
}

// Resolve returns candidate when it is new. A repeated candidate, or one
// without any letters or digits, is replaced by the first bank entry not yet
// asked. Narrative text that is not a
// question is returned unchanged.
func Resolve(candidate string, asked, bank []string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if Normalize(candidate) != "" {
		if !IsQuestion(candidate) || !IsDuplicate(candidate, asked) {
			return candidate, nil
		}
	}

	seen := make(map[string]struct{}, len(asked))
	for _, q := range asked {
		seen[Normalize(q)] = struct{}{}
	}
	for _, q := range bank {
		if _, ok := seen[Normalize(q)]; !ok {
			return q, nil
		}
	}
	return "", ErrNoUniqueQuestion
}

// Unique drops entries of candidates that repeat asked questions or each
// other, keeping order.
func Unique(candidates, asked []string) []string {
	seen := make(map[string]struct{}, len(asked)+len(candidates))
	for _, q := range asked {
		seen[Normalize(q)] = struct{}{}
	}
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := Normalize(c)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
