// Package extract recovers a JSON payload from free-text model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJSONFound is returned when the text contains neither '{' nor '['.
	ErrNoJSONFound = errors.New("no JSON object or array found")
	// ErrMalformedJSON is returned when the recovered span is not valid JSON.
	ErrMalformedJSON = errors.New("malformed JSON payload")
)

// JSON returns the object or array embedded in text. A surrounding code
// fence is removed first, then the span from the earliest '{' or '[' to the
// latest '}' or ']' is taken. Truncated payloads are not repaired.
func JSON(text string) (json.RawMessage, error) {
	cleaned := stripFence(text)

	start := firstIndex(cleaned, '{', '[')
	if start < 0 {
		return nil, ErrNoJSONFound
	}
	end := lastIndex(cleaned[start:], '}', ']')
	if end < 0 {
		return nil, fmt.Errorf("%w: missing closing bracket", ErrMalformedJSON)
	}

	payload := cleaned[start : start+end+1]
	if !json.Valid([]byte(payload)) {
		return nil, ErrMalformedJSON
	}
	return json.RawMessage(payload), nil
}

// Into extracts the payload from text and decodes it into v.
func Into(text string, v any) error {
	raw, err := JSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}

func stripFence(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func firstIndex(s string, a, b byte) int {
	i, j := strings.IndexByte(s, a), strings.IndexByte(s, b)
	switch {
	case i < 0:
		return j
	case j < 0:
		return i
	default:
		return min(i, j)
	}
}

func lastIndex(s string, a, b byte) int {
	return max(strings.LastIndexByte(s, a), strings.LastIndexByte(s, b))
}
