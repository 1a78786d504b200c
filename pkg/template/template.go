// Package template renders message text with per-subscriber variables.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.-]*)\s*\}\}`)

// Render replaces every {{identifier}} with its value from vars. Unknown
// identifiers render as the empty string; rendering never fails.
func Render(text string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]

		value, ok := Lookup(vars, name)
		if !ok {
			return ""
		}

		return Stringify(value)
	})
}

// Lookup resolves name in vars. An exact key wins; otherwise a dotted name
// walks nested maps.
func Lookup(vars map[string]any, name string) (any, bool) {
	if value, ok := vars[name]; ok {
		return value, value != nil
	}

	current := vars

	parts := strings.Split(name, ".")
	for i, part := range parts {
		value, ok := current[part]
		if !ok || value == nil {
			return nil, false
		}

		if i == len(parts)-1 {
			return value, true
		}

		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}

		current = next
	}

	return nil, false
}

// Stringify formats a variable the way it appears in a message.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// SelectMessage picks the variant for language, then defaultLanguage, then
// the first non-empty variant by language code. ok is false when no variant
// has text.
func SelectMessage(messages map[string]string, language, defaultLanguage string) (text, selected string, ok bool) {
	for _, candidate := range []string{language, defaultLanguage} {
		if candidate == "" {
			continue
		}

		if text := messages[candidate]; strings.TrimSpace(text) != "" {
			return text, candidate, true
		}
	}

	languages := make([]string, 0, len(messages))
	for lang, text := range messages {
		if strings.TrimSpace(text) != "" {
			languages = append(languages, lang)
		}
	}

	if len(languages) == 0 {
		return "", "", false
	}

	sort.Strings(languages)

	return messages[languages[0]], languages[0], true
}

// Clamp truncates text to at most maxLength characters.
func Clamp(text string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(text) <= maxLength {
		return text
	}

	runes := []rune(text)

	return string(runes[:maxLength])
}
