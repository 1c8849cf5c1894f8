package domain

import "strings"

// Character - участник сцены. Name служит идентификатором во всей модели сцены.
type Character struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Personality  string   `json:"personality"`
	Catchphrases []string `json:"catchphrases"`
	VoiceID      string   `json:"voiceId,omitempty"`
	// Human помечает живого исполнителя в смешанном режиме; селектор его никогда не выбирает.
	Human bool `json:"human,omitempty"`
}

// FirstCatchphrase возвращает первую непустую коронную фразу или "".
func (c Character) FirstCatchphrase() string {
	for _, p := range c.Catchphrases {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}

// CharacterNames возвращает имена в порядке состава.
func CharacterNames(chars []Character) []string {
	names := make([]string, 0, len(chars))
	for _, c := range chars {
		names = append(names, c.Name)
	}
	return names
}

// FindCharacter ищет персонажа по имени. Сначала точное совпадение, затем
// регистронезависимое после обрезки пробелов.
func FindCharacter(chars []Character, name string) (Character, bool) {
	for _, c := range chars {
		if c.Name == name {
			return c, true
		}
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Character{}, false
	}
	for _, c := range chars {
		if strings.ToLower(c.Name) == needle {
			return c, true
		}
	}
	return Character{}, false
}
