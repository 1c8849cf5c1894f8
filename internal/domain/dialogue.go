package domain

import (
	"strings"
	"time"
)

// DialogueLine - одна зафиксированная реплика. После создания не изменяется.
type DialogueLine struct {
	Sequence  int       `json:"sequence"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	WordCount int       `json:"wordCount"`
	Timestamp time.Time `json:"timestamp"`
}

// CountWords считает слова, разделенные пробелами.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
