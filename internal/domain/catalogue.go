package domain

// DefaultCharacters - встроенный состав, если своего каталога в хранилище нет.
// VoiceID - голоса OpenAI speech.
func DefaultCharacters() []Character {
	return []Character{
		{
			ID:           "morgan-freeman",
			Name:         "Morgan Freeman",
			Catchphrases: []string{"I can smell you", "Get busy living or get busy dying", "Hope is a good thing"},
			VoiceID:      "onyx",
			Personality:  "Wise, narrator-like, gravitas, philosophical",
		},
		{
			ID:           "samuel-jackson",
			Name:         "Samuel L. Jackson",
			Catchphrases: []string{"Say what again!", "Hold onto your butts", "I have had it with these..."},
			VoiceID:      "echo",
			Personality:  "Intense, passionate, uses emphasis, direct",
		},
		{
			ID:           "christopher-walken",
			Name:         "Christopher Walken",
			Catchphrases: []string{"More cowbell", "Wow", "This watch..."},
			VoiceID:      "fable",
			Personality:  "Quirky pauses, unexpected emphasis, mysterious",
		},
		{
			ID:           "jack-nicholson",
			Name:         "Jack Nicholson",
			Catchphrases: []string{"Here's Johnny!", "You can't handle the truth!", "All work and no play..."},
			VoiceID:      "alloy",
			Personality:  "Manic energy, sinister charm, theatrical",
		},
		{
			ID:           "arnold-schwarzenegger",
			Name:         "Arnold Schwarzenegger",
			Catchphrases: []string{"I'll be back", "Hasta la vista, baby", "Get to the chopper!"},
			VoiceID:      "onyx",
			Personality:  "Action hero, Austrian accent, confident, one-liners",
		},
		{
			ID:           "owen-wilson",
			Name:         "Owen Wilson",
			Catchphrases: []string{"Wow", "Unbelievable", "That's crazy"},
			VoiceID:      "nova",
			Personality:  "Laid-back, surfer vibe, enthusiastic wow",
		},
		{
			ID:           "matthew-mcconaughey",
			Name:         "Matthew McConaughey",
			Catchphrases: []string{"Alright, alright, alright", "Time is a flat circle", "Just keep livin'"},
			VoiceID:      "shimmer",
			Personality:  "Philosophical, Texas drawl, contemplative",
		},
		{
			ID:           "jeff-goldblum",
			Name:         "Jeff Goldblum",
			Catchphrases: []string{"Life finds a way", "Must go faster", "Well, there it is"},
			VoiceID:      "fable",
			Personality:  "Eccentric, stammers, intellectual tangents",
		},
	}
}

// HumanPerformer - живой исполнитель по умолчанию для смешанного режима.
func HumanPerformer() Character {
	return Character{
		ID:          "human-performer",
		Name:        "You",
		Personality: "Live human improviser",
		Human:       true,
	}
}
