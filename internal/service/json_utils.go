package service

import (
	"strings"
)

// FixJSON закрывает несбалансированные скобки в конце обрезанного ответа модели.
// Скобки внутри строк игнорируются.
func FixJSON(jsonStr string) string {
	if jsonStr == "" {
		return jsonStr
	}

	counts := map[rune]int{'{': 0, '}': 0, '[': 0, ']': 0}
	inString := false
	escaped := false

	for _, char := range jsonStr {
		if char == '"' && !escaped {
			inString = !inString
		}
		if !inString {
			if count, exists := counts[char]; exists {
				counts[char] = count + 1
			}
		}
		escaped = char == '\\' && !escaped
	}

	fixed := jsonStr
	if inString {
		fixed += `"`
	}
	if n := counts['['] - counts[']']; n > 0 {
		fixed += strings.Repeat("]", n)
	}
	if n := counts['{'] - counts['}']; n > 0 {
		fixed += strings.Repeat("}", n)
	}
	return fixed
}

// ExtractJSON убирает markdown code fences и окружающий текст, возвращая
// внешний JSON объект ответа.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return FixJSON(s[start:])
	}
	return s[start : end+1]
}
