package speech

import (
	"strings"
	"sync"
)

// PhraseCache хранит синтезированное аудио по голосу и тексту в нижнем регистре.
// При заполнении вытесняется самая старая запись.
type PhraseCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	items    map[string][]byte
}

func NewPhraseCache(capacity int) *PhraseCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &PhraseCache{capacity: capacity, items: make(map[string][]byte)}
}

func cacheKey(voice, text string) string {
	return voice + ":" + strings.ToLower(strings.TrimSpace(text))
}

func (c *PhraseCache) Get(voice, text string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	audio, ok := c.items[cacheKey(voice, text)]
	return audio, ok
}

func (c *PhraseCache) Put(voice, text string, audio []byte) {
	key := cacheKey(voice, text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		c.order = append(c.order, key)
	}
	c.items[key] = audio
	for len(c.order) > c.capacity {
		delete(c.items, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *PhraseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *PhraseCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string][]byte)
	c.order = nil
	c.mu.Unlock()
}
