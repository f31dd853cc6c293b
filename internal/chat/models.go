package chat

import "gorm.io/datatypes"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Chat struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title         string `gorm:"column:title" json:"title"`
	SystemMessage string `gorm:"column:system_message" json:"system_message"`
}

func (Chat) TableName() string { return "Chat" }

// Request is one completion call within a Chat.
type Request struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ChatID       int64          `gorm:"column:chat_id" json:"chat_id"`
	Model        string         `gorm:"column:model" json:"model"`
	Created      int64          `gorm:"column:created" json:"created"`
	Parameters   datatypes.JSON `gorm:"column:parameters" json:"parameters"`
	FinishReason *string        `gorm:"column:finish_reason" json:"finish_reason"`
}

func (Request) TableName() string { return "Request" }

// Message is the prompt (role user) or completion (role assistant) of a Request.
type Message struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RequestID *int64 `gorm:"column:request_id" json:"request_id"`
	Role      string `gorm:"column:role" json:"role"`
	Content   string `gorm:"column:content" json:"content"`
	Tokens    *int   `gorm:"column:tokens" json:"tokens"`
}

func (Message) TableName() string { return "Message" }

// ViewRow is one row of MessageListView: a Chat joined with one of its
// Requests and that request's prompt and completion. Request columns are
// nil for a chat that has no requests.
type ViewRow struct {
	ChatID            int64   `gorm:"column:chat_id" json:"chat_id"`
	ChatTitle         string  `gorm:"column:chat_title" json:"chat_title"`
	SystemMessage     string  `gorm:"column:system_message" json:"system_message"`
	RequestID         *int64  `gorm:"column:request_id" json:"request_id"`
	Model             *string `gorm:"column:model" json:"model"`
	CompletionCreated *int64  `gorm:"column:completion_created" json:"completion_created"`
	Parameters        *string `gorm:"column:parameters" json:"parameters"`
	FinishReason      *string `gorm:"column:finish_reason" json:"finish_reason"`
	Prompt            *string `gorm:"column:prompt" json:"prompt"`
	Completion        *string `gorm:"column:completion" json:"completion"`
	PromptTokens      *int    `gorm:"column:prompt_tokens" json:"prompt_tokens"`
	CompletionTokens  *int    `gorm:"column:completion_tokens" json:"completion_tokens"`
}

// ExchangeRecord is everything insertExchange writes for one exchange.
type ExchangeRecord struct {
	ChatID           int64
	Model            string
	Created          int64
	Parameters       map[string]any
	FinishReason     string
	Prompt           string
	PromptTokens     int
	Completion       string
	CompletionTokens int
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
