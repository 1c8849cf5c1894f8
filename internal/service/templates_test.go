package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Hi {name}, welcome to {place}. {unknown} stays.", map[string]string{
		"name":  "Alice",
		"place": "the lighthouse",
	})
	assert.Equal(t, "Hi Alice, welcome to the lighthouse. {unknown} stays.", out)
}

func TestCleanLine(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"plain", "Yes, and the lamp is lit!", "Yes, and the lamp is lit!"},
		{"attribution", "Alice: Yes, and the lamp is lit!", "Yes, and the lamp is lit!"},
		{"quoted", `"Yes, and the lamp is lit!"`, "Yes, and the lamp is lit!"},
		{"multiline", "Yes, and the lamp is lit!\nBob: No!", "Yes, and the lamp is lit!"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanLine(tc.in, "Alice"))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	in := "Sure!\n```json\n{\"nextSpeaker\": \"Bob\", \"reason\": \"quiet\"}\n```\nHope that helps."
	assert.Equal(t, `{"nextSpeaker": "Bob", "reason": "quiet"}`, ExtractJSON(in))
}

func TestFixJSON(t *testing.T) {
	assert.Equal(t, `{"a": [1, 2]}`, FixJSON(`{"a": [1, 2`))
	assert.Equal(t, `{"a": "b"}`, FixJSON(`{"a": "b`))
}
