// Package llmparse implements the layered LLM response parser (§9):
// strict JSON, then a fenced code block, then a brace-counting scan for
// the first balanced object. Every layer failure is non-fatal. There is
// no text-heuristic layer: when all three layers fail, the calling stage
// goes straight to its fallback or rule-based output.
package llmparse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Parse attempts, in order: strict JSON on the full text; the first
// fenced code block; the first balanced brace-delimited object. It
// returns ok=false if no layer produces valid JSON; no caller applies
// text heuristics after that, each produces its fallback or rule-based
// output instead.
func Parse(text string, log *logrus.Logger) (map[string]any, bool) {
	if obj, ok := tryStrictJSON(text); ok {
		return obj, true
	}
	if log != nil {
		log.Warn("llmparse: strict JSON parse failed, trying fenced code block")
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if obj, ok := tryStrictJSON(m[1]); ok {
			return obj, true
		}
	}
	if log != nil {
		log.Warn("llmparse: fenced block parse failed, scanning for balanced object")
	}

	if block, ok := firstBalancedObject(text); ok {
		if obj, ok := tryStrictJSON(block); ok {
			return obj, true
		}
	}
	if log != nil {
		log.Warn("llmparse: no balanced JSON object found in response")
	}

	return nil, false
}

func tryStrictJSON(text string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// firstBalancedObject scans text for the first '{' and returns the
// substring up to its matching '}', tracking string/escape state so
// braces inside string literals don't confuse the counter.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// inside a string literal; braces don't count
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
