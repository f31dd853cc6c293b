package ai

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens a model would see for text.
type TokenCounter interface {
	Count(model, text string) int
}

// CounterFunc adapts a function to TokenCounter.
type CounterFunc func(model, text string) int

func (f CounterFunc) Count(model, text string) int { return f(model, text) }

// CharCounter estimates tokens from rune count. It rounds up so the
// estimate errs toward evicting early.
type CharCounter struct {
	CharsPerToken float64
}

func (c CharCounter) Count(_ string, text string) int {
	if text == "" {
		return 0
	}
	ratio := c.CharsPerToken
	if ratio <= 0 {
		ratio = 4.0
	}
	return int(float64(utf8.RuneCountInString(text))/ratio) + 1
}

// TiktokenCounter uses the model's BPE encoding when tiktoken knows the
// model and falls back to CharCounter otherwise. Encodings are cached per
// model; loading one (which may fetch its BPE file) blocks only callers
// counting for that model.
type TiktokenCounter struct {
	mu       sync.Mutex
	entries  map[string]*encodingEntry
	load     func(model string) (*tiktoken.Tiktoken, error)
	fallback CharCounter
}

type encodingEntry struct {
	once sync.Once
	enc  *tiktoken.Tiktoken // nil when tiktoken does not know the model
}

func NewTiktokenCounter() *TiktokenCounter {
	return newTiktokenCounter(tiktoken.EncodingForModel)
}

func newTiktokenCounter(load func(string) (*tiktoken.Tiktoken, error)) *TiktokenCounter {
	return &TiktokenCounter{
		entries:  make(map[string]*encodingEntry),
		load:     load,
		fallback: CharCounter{CharsPerToken: 4.0},
	}
}

// Preload loads the encodings of models ahead of the first Count.
func (c *TiktokenCounter) Preload(models ...string) {
	for _, m := range models {
		c.encoding(m)
	}
}

func (c *TiktokenCounter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := c.encoding(model)
	if enc == nil {
		return c.fallback.Count(model, text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	e, ok := c.entries[model]
	if !ok {
		e = &encodingEntry{}
		c.entries[model] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		if enc, err := c.load(model); err == nil {
			e.enc = enc
		}
	})
	return e.enc
}
