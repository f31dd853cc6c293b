package chat

import (
	"sync"

	"github.com/suPer8Hu/chatvault/internal/ai"
)

const (
	DefaultMaximumTokens = 4097
	DefaultReserveTokens = 410
)

// Exchange is one prompt/completion pair with its token counts.
type Exchange struct {
	RequestID        int64  `json:"request_id"`
	Timestamp        int64  `json:"timestamp"`
	Model            string `json:"model"`
	Prompt           string `json:"prompt"`
	Completion       string `json:"completion"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

func (x Exchange) Tokens() int { return x.PromptTokens + x.CompletionTokens }

type HistoryEntry struct {
	RequestID  int64  `json:"request_id"`
	Timestamp  int64  `json:"timestamp"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// Budget bounds the live context. SystemTokens is added to the live count
// during eviction; it stays zero unless system message counting is enabled.
type Budget struct {
	Maximum      int
	Reserve      int
	SystemTokens int
}

// Conversation is the in-memory state of one chat: the full history and the
// live suffix of it that is sent to the provider.
type Conversation struct {
	mu sync.RWMutex

	chatID        int64
	systemMessage string
	budget        Budget

	history []Exchange
	live    []Exchange // always a suffix of history, or empty after a reset
}

func NewConversation(chatID int64, systemMessage string) *Conversation {
	return &Conversation{
		chatID:        chatID,
		systemMessage: systemMessage,
		budget:        Budget{Maximum: DefaultMaximumTokens, Reserve: DefaultReserveTokens},
	}
}

func (c *Conversation) ChatID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatID
}

func (c *Conversation) setChatID(id int64) {
	c.mu.Lock()
	c.chatID = id
	c.mu.Unlock()
}

func (c *Conversation) SystemMessage() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemMessage
}

func (c *Conversation) SetBudget(b Budget) {
	c.mu.Lock()
	c.budget = b
	c.mu.Unlock()
}

// HistoryArray returns every exchange in order, including evicted ones.
func (c *Conversation) HistoryArray() []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HistoryEntry, 0, len(c.history))
	for _, x := range c.history {
		out = append(out, HistoryEntry{
			RequestID:  x.RequestID,
			Timestamp:  x.Timestamp,
			Prompt:     x.Prompt,
			Completion: x.Completion,
		})
	}
	return out
}

// Len is the number of exchanges in history.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// Live returns a copy of the live set.
func (c *Conversation) Live() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Exchange(nil), c.live...)
}

// ContextArray returns the provider message list: the system message, then
// user and assistant turns for each live exchange. With trim it first evicts
// against the conversation's budget.
func (c *Conversation) ContextArray(trim bool) []ai.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if trim {
		c.trimLocked(c.budget.Maximum, c.budget.Reserve)
	}
	return c.messagesLocked(c.live)
}

// AppendExchange adds x to both history and the live set. It never evicts.
func (c *Conversation) AppendExchange(x Exchange) {
	c.mu.Lock()
	c.history = append(c.history, x)
	c.live = append(c.live, x)
	c.mu.Unlock()
}

// catchUp appends the exchanges of xs newer than the last one in history,
// in order, and reports how many were added. Exchanges without a request id
// are always appended.
func (c *Conversation) catchUp(xs ...Exchange) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var last int64
	if n := len(c.history); n > 0 {
		last = c.history[n-1].RequestID
	}
	added := 0
	for _, x := range xs {
		if x.RequestID != 0 && x.RequestID <= last {
			continue
		}
		c.history = append(c.history, x)
		c.live = append(c.live, x)
		if x.RequestID != 0 {
			last = x.RequestID
		}
		added++
	}
	return added
}

// ContextTokenCount sums prompt and completion tokens over the live set.
func (c *Conversation) ContextTokenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.liveTokensLocked()
}

// ResetContext empties the live set. History is untouched.
func (c *Conversation) ResetContext() {
	c.mu.Lock()
	c.live = nil
	c.mu.Unlock()
}

// Trim drops the oldest live exchanges while the live token count plus
// reserve exceeds maximum, and reports how many were dropped. A single
// exchange that alone exceeds the budget is dropped too; the loop only
// stops early when the live set is empty.
func (c *Conversation) Trim(maximum, reserve int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trimLocked(maximum, reserve)
}

// PreviewContext returns what ContextArray(true) would return under the
// given limits, and how many exchanges it would evict, without evicting.
func (c *Conversation) PreviewContext(maximum, reserve int) ([]ai.Message, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := c.evictCountLocked(maximum, reserve)
	return c.messagesLocked(c.live[n:]), n
}

func (c *Conversation) trimLocked(maximum, reserve int) int {
	n := c.evictCountLocked(maximum, reserve)
	for i := 0; i < n; i++ {
		c.live[i] = Exchange{}
	}
	c.live = c.live[n:]
	if len(c.live) == 0 {
		c.live = nil
	}
	return n
}

// evictCountLocked runs the FIFO eviction loop without applying it.
func (c *Conversation) evictCountLocked(maximum, reserve int) int {
	total := c.liveTokensLocked()
	n := 0
	for n < len(c.live) && total+c.budget.SystemTokens+reserve > maximum {
		total -= c.live[n].Tokens()
		n++
	}
	return n
}

func (c *Conversation) messagesLocked(live []Exchange) []ai.Message {
	out := make([]ai.Message, 0, 1+2*len(live))
	out = append(out, ai.Message{Role: ai.RoleSystem, Content: c.systemMessage})
	for _, x := range live {
		out = append(out,
			ai.Message{Role: ai.RoleUser, Content: x.Prompt},
			ai.Message{Role: ai.RoleAssistant, Content: x.Completion},
		)
	}
	return out
}

func (c *Conversation) liveTokensLocked() int {
	n := 0
	for _, x := range c.live {
		n += x.Tokens()
	}
	return n
}
