package service

import (
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// RenderTemplate заменяет плейсхолдеры {name} значениями из vars. Неизвестные плейсхолдеры остаются как есть.
func RenderTemplate(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		if v, ok := vars[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// CleanLine убирает пробелы, обрамляющие кавычки и начальное "Name:" из сгенерированной реплики.
func CleanLine(text, speaker string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	for _, prefix := range []string{speaker + ":", strings.ToUpper(speaker) + ":", "**" + speaker + ":**", "**" + speaker + "**:"} {
		if speaker != "" && strings.HasPrefix(line, prefix) {
			line = strings.TrimSpace(line[len(prefix):])
			break
		}
	}
	for len(line) >= 2 {
		first, last := line[0], line[len(line)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			line = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}
		break
	}
	if strings.HasPrefix(line, "“") && strings.HasSuffix(line, "”") {
		line = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(line, "“"), "”"))
	}
	return line
}
