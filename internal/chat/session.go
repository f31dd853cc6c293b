package chat

import (
	"sort"
	"sync"
)

// Sessions holds the live Conversation of every saved chat. It is built from
// the reconstruction view at startup and changed only by the Service.
type Sessions struct {
	mu     sync.RWMutex
	byChat map[int64]*Conversation
}

func NewSessions() *Sessions {
	return &Sessions{byChat: make(map[int64]*Conversation)}
}

func (s *Sessions) Get(chatID int64) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byChat[chatID]
	return c, ok
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byChat)
}

// ChatIDs returns the ids of all live conversations in ascending order.
func (s *Sessions) ChatIDs() []int64 {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.byChat))
	for id := range s.byChat {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Sessions) put(c *Conversation) {
	s.mu.Lock()
	s.byChat[c.ChatID()] = c
	s.mu.Unlock()
}

// getOrPut returns the conversation already registered for c's chat, or
// registers c.
func (s *Sessions) getOrPut(c *Conversation) *Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byChat[c.ChatID()]; ok {
		return cur
	}
	s.byChat[c.ChatID()] = c
	return c
}

func (s *Sessions) remove(chatID int64) {
	s.mu.Lock()
	delete(s.byChat, chatID)
	s.mu.Unlock()
}

// hydrate replaces the registry with conversations rebuilt from view rows.
// Rows must be ordered by request id; every exchange starts out live.
func (s *Sessions) hydrate(rows []ViewRow) {
	next := make(map[int64]*Conversation)
	for _, row := range rows {
		conv, ok := next[row.ChatID]
		if !ok {
			conv = NewConversation(row.ChatID, row.SystemMessage)
			next[row.ChatID] = conv
		}
		if row.RequestID == nil {
			continue
		}
		conv.AppendExchange(exchangeFromRow(row))
	}
	s.mu.Lock()
	s.byChat = next
	s.mu.Unlock()
}

func exchangeFromRow(row ViewRow) Exchange {
	return Exchange{
		RequestID:        deref(row.RequestID),
		Timestamp:        deref(row.CompletionCreated),
		Model:            deref(row.Model),
		Prompt:           deref(row.Prompt),
		Completion:       deref(row.Completion),
		PromptTokens:     deref(row.PromptTokens),
		CompletionTokens: deref(row.CompletionTokens),
		FinishReason:     deref(row.FinishReason),
	}
}
