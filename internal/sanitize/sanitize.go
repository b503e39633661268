// Package sanitize guards the prompt-construction boundary. Every user
// supplied string passes through Sanitize before it is interpolated into a
// model prompt.
package sanitize

import (
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLength is the number of runes kept from any input.
const MaxLength = 5000

// ErrInjectionDetected is returned when input tries to override instructions.
var ErrInjectionDetected = errors.New("prompt injection detected")

var injectionPatterns = compile(
	`ignore\s+(all\s+)?(previous|all|above|prior)\s+instructions?`,
	`disregard\s+(all\s+)?(previous|all|above|prior)\s+instructions?`,
	`forget\s+(everything|all|previous)\s+(instructions?|prompts?)`,
	`(new|different|updated)\s+instructions?\s*:`,
	`system\s*:\s*you\s+are`,
	`you\s+are\s+now\s+(a|an)\s+`,
	`roleplay\s+as`,
	`act\s+as\s+(if|though|a|an)\b`,
	`pretend\s+(you|to\s+be)`,
	`<\s*script`,
	`javascript\s*:`,
	`eval\s*\(`,
	`exec\s*\(`,
)

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Sanitize rejects instruction-override attempts, strips control characters
// other than newline, carriage return and tab, truncates to MaxLength runes
// and trims surrounding whitespace.
func Sanitize(text string) (string, error) {
	if pattern := Detect(text); pattern != "" {
		slog.Warn("Prompt injection attempt rejected", "pattern", pattern)
		return "", ErrInjectionDetected
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)

	if n := utf8.RuneCountInString(cleaned); n > MaxLength {
		slog.Warn("Input truncated", "length", n, "max", MaxLength)
		cleaned = string([]rune(cleaned)[:MaxLength])
	}

	return strings.TrimSpace(cleaned), nil
}

// Detect returns the first denylist pattern matching text, or "".
func Detect(text string) string {
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return re.String()
		}
	}
	return ""
}
