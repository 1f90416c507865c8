package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when a model reply contains no parseable JSON
// object.
var ErrNoJSON = errors.New("llm reply contains no JSON object")

// ExtractJSON locates the first complete JSON object in a model reply and
// unmarshals it into dst. Models wrap structured output in prose and code
// fences often enough that callers must not assume the reply is bare JSON.
func ExtractJSON(reply string, dst any) error {
	candidate := stripFences(reply)

	start := strings.IndexByte(candidate, '{')
	if start < 0 {
		return ErrNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(candidate); i++ {
		ch := candidate[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				if err := json.Unmarshal([]byte(candidate[start:i+1]), dst); err != nil {
					return err
				}
				return nil
			}
		}
	}

	return ErrNoJSON
}

func stripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	// Prefer the fenced block when one exists: everything between the first
	// pair of fences, with an optional language hint after the opener.
	first := strings.Index(trimmed, "```")
	rest := trimmed[first+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		lang := strings.TrimSpace(rest[:nl])
		if lang == "" || lang == "json" {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
