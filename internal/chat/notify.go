package chat

import "time"

// Event kinds published while serving exchanges and chat commands.
const (
	EventChatCreated        = "chat-created"
	EventResponseReady      = "response-ready"
	EventResponseSuccess    = "response-success"
	EventResponseError      = "response-error"
	EventGeneratingTitle    = "generating-chat-title"
	EventChatTitleGenerated = "chat-title-generated"
	EventChatDeleted        = "chat-deleted"
	EventSearchResultsReady = "search-results-ready"
)

// Emitter publishes UI events. Emit must not block.
type Emitter interface {
	Emit(kind string, payload any)
}

// Observer receives exchange and eviction measurements.
type Observer interface {
	ObserveExchange(outcome string, d time.Duration)
	ObserveEviction(n int)
	ObserveTitle(outcome string)
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) {}

type nopObserver struct{}

func (nopObserver) ObserveExchange(string, time.Duration) {}
func (nopObserver) ObserveEviction(int)                   {}
func (nopObserver) ObserveTitle(string)                   {}
