package chooser

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// ParseCompletion extracts the function name and argument text from a
// completion. The name is the leading identifier; a JSON object or a
// parenthesised argument list may follow it.
func ParseCompletion(raw string) (name string, args json.RawMessage) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)

	end := 0
	for i, r := range s {
		if r == '_' || r == '.' || r == '-' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			end = i + len(string(r))
			continue
		}
		break
	}
	name = strings.TrimRight(s[:end], ".-")
	rest := strings.TrimSpace(s[len(name):])

	switch {
	case strings.HasPrefix(rest, "{"):
		return name, firstJSONValue(rest)
	case strings.HasPrefix(rest, "("):
		inner, ok := parenthesised(rest)
		if !ok {
			return name, nil
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return name, nil
		}
		if v := firstJSONValue(inner); v != nil && len(bytes.TrimSpace(v)) == len(inner) {
			return name, v
		}
		quoted, err := json.Marshal(inner)
		if err != nil {
			return name, nil
		}
		return name, quoted
	default:
		return name, nil
	}
}

// firstJSONValue decodes the first JSON value in s, or nil.
func firstJSONValue(s string) json.RawMessage {
	dec := json.NewDecoder(strings.NewReader(s))
	var v json.RawMessage
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// parenthesised returns the text inside the balanced parentheses that open
// s, skipping parentheses inside double-quoted strings.
func parenthesised(s string) (string, bool) {
	depth := 0
	inStr, esc := false, false
	for i, r := range s {
		switch {
		case esc:
			esc = false
		case inStr && r == '\\':
			esc = true
		case r == '"':
			inStr = !inStr
		case inStr:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth == 0 {
				return s[1:i], true
			}
		}
	}
	return "", false
}
