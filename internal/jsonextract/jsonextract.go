// internal/jsonextract/jsonextract.go
//
// Package jsonextract recovers a JSON value from raw language-model output.
// Models routinely wrap valid JSON in explanatory prose or markdown fences
// despite prompt instructions forbidding it; that is the dominant failure
// mode this package exists to absorb, not an exceptional case.
package jsonextract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const snippetLimit = 200

// ParseError is returned when every recovery strategy has been exhausted.
type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("jsonextract: %s", e.Reason)
	}
	return fmt.Sprintf("jsonextract: %s: %q", e.Reason, e.Snippet)
}

var fenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// Extract recovers a JSON value (object or array) from text.
func Extract(text string) (any, error) {
	raw, err := Recover(text)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &ParseError{Reason: "unparsable response", Snippet: snippet(text)}
	}
	return v, nil
}

// ExtractInto recovers a JSON value from text and unmarshals it into v.
func ExtractInto(text string, v any) error {
	raw, err := Recover(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ParseError{Reason: fmt.Sprintf("recovered JSON does not match target: %v", err), Snippet: snippet(raw)}
	}
	return nil
}

// Recover locates the JSON region inside text and returns it verbatim.
// Strategies are tried in order until one yields valid JSON.
func Recover(text string) (string, error) {
	working := strings.TrimSpace(text)
	if working == "" {
		return "", &ParseError{Reason: "empty input"}
	}

	// Strip a markdown fence and work with its inner content.
	if m := fenceRe.FindStringSubmatch(working); m != nil {
		working = strings.TrimSpace(m[1])
	}

	// Direct parse when the text already starts with a JSON value.
	if strings.HasPrefix(working, "[") || strings.HasPrefix(working, "{") {
		if json.Valid([]byte(working)) {
			return working, nil
		}
	}

	// Smallest balanced array region that contains at least one object.
	if region := firstArrayOfObjects(working); region != "" {
		return region, nil
	}

	// Generic bracketed region: first opener to last matching closer.
	if region := widestBracketRegion(working); region != "" {
		return region, nil
	}

	// Last resort: collect every balanced object substring into an array.
	if objs := allObjects(working); len(objs) > 0 {
		return "[" + strings.Join(objs, ",") + "]", nil
	}

	return "", &ParseError{Reason: "unparsable response", Snippet: snippet(text)}
}

// firstArrayOfObjects scans for the first balanced [...] region that
// contains an object and parses as valid JSON.
func firstArrayOfObjects(text string) string {
	for start := 0; start < len(text); start++ {
		if text[start] != '[' {
			continue
		}
		end := matchBracket(text, start)
		if end < 0 {
			continue
		}
		region := text[start : end+1]
		if strings.Contains(region, "{") && json.Valid([]byte(region)) {
			return region
		}
	}
	return ""
}

// widestBracketRegion takes the first '[' or '{' through the last matching
// closer and returns it if valid.
func widestBracketRegion(text string) string {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return ""
	}
	var closer byte = ']'
	if text[start] == '{' {
		closer = '}'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return ""
	}
	region := text[start : end+1]
	if json.Valid([]byte(region)) {
		return region
	}
	return ""
}

// allObjects collects every balanced top-level {...} substring that parses
// as valid JSON on its own.
func allObjects(text string) []string {
	var objs []string
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchBracket(text, i)
		if end < 0 {
			continue
		}
		region := text[i : end+1]
		if json.Valid([]byte(region)) {
			objs = append(objs, region)
			i = end
		}
	}
	return objs
}

// matchBracket returns the index of the closer matching the opener at
// text[open], honoring string literals and escapes, or -1.
func matchBracket(text string, open int) int {
	opener := text[open]
	var closer byte
	switch opener {
	case '[':
		closer = ']'
	case '{':
		closer = '}'
	default:
		return -1
	}

	depth := 0
	inString := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > snippetLimit {
		return text[:snippetLimit] + "..."
	}
	return text
}
