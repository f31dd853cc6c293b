package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Migrate creates the tables and the reconstruction view for the
// connected dialect. It is idempotent.
func (r *Repo) Migrate(ctx context.Context) error {
	name := r.db.Dialector.Name()
	stmts, ok := schemaStatements[name]
	if !ok {
		return fmt.Errorf("migrate: unsupported dialect %q", name)
	}
	for _, stmt := range stmts {
		if err := r.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return &StorageError{Op: "migrate", Err: err}
		}
	}
	return nil
}

// CreateChat inserts a Chat and returns its id.
func (r *Repo) CreateChat(ctx context.Context, title, systemMessage string) (int64, error) {
	c := Chat{Title: title, SystemMessage: systemMessage}
	if err := r.db.WithContext(ctx).Create(&c).Error; err != nil {
		return 0, &StorageError{Op: "create chat", Err: err}
	}
	return c.ID, nil
}

// InsertExchange atomically writes a Request and its prompt and completion
// Messages. Either all three rows exist afterwards or none do.
func (r *Repo) InsertExchange(ctx context.Context, rec ExchangeRecord) (int64, error) {
	var requestID int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := insertExchange(tx, rec)
		requestID = id
		return err
	})
	if err != nil {
		return 0, &StorageError{Op: "insert exchange", Err: err}
	}
	return requestID, nil
}

// StartChat creates a Chat together with its first exchange in one
// transaction, so a chat is never stored without a request.
func (r *Repo) StartChat(ctx context.Context, title, systemMessage string, rec ExchangeRecord) (chatID, requestID int64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c := Chat{Title: title, SystemMessage: systemMessage}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		rec.ChatID = c.ID
		id, err := insertExchange(tx, rec)
		if err != nil {
			return err
		}
		chatID, requestID = c.ID, id
		return nil
	})
	if err != nil {
		return 0, 0, &StorageError{Op: "start chat", Err: err}
	}
	return chatID, requestID, nil
}

func insertExchange(tx *gorm.DB, rec ExchangeRecord) (int64, error) {
	var n int64
	if err := tx.Model(&Chat{}).Where("id = ?", rec.ChatID).Count(&n).Error; err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrChatNotFound
	}

	req := Request{
		ChatID:  rec.ChatID,
		Model:   rec.Model,
		Created: rec.Created,
	}
	if rec.Parameters != nil {
		b, err := json.Marshal(rec.Parameters)
		if err != nil {
			return 0, fmt.Errorf("encode parameters: %w", err)
		}
		req.Parameters = datatypes.JSON(b)
	}
	if rec.FinishReason != "" {
		fr := rec.FinishReason
		req.FinishReason = &fr
	}
	if err := tx.Create(&req).Error; err != nil {
		return 0, err
	}

	promptTokens, completionTokens := rec.PromptTokens, rec.CompletionTokens
	msgs := []Message{
		{RequestID: &req.ID, Role: RoleUser, Content: rec.Prompt, Tokens: &promptTokens},
		{RequestID: &req.ID, Role: RoleAssistant, Content: rec.Completion, Tokens: &completionTokens},
	}
	if err := tx.Create(&msgs).Error; err != nil {
		return 0, err
	}
	return req.ID, nil
}

// FetchAllExchanges reads the whole reconstruction view ordered by request id.
func (r *Repo) FetchAllExchanges(ctx context.Context) ([]ViewRow, error) {
	var rows []ViewRow
	if err := r.db.WithContext(ctx).Raw(selectAllExchanges).Scan(&rows).Error; err != nil {
		return nil, &StorageError{Op: "fetch exchanges", Err: err}
	}
	return rows, nil
}

// FetchChatExchanges reads the view rows of one chat.
func (r *Repo) FetchChatExchanges(ctx context.Context, chatID int64) ([]ViewRow, error) {
	var rows []ViewRow
	if err := r.db.WithContext(ctx).Raw(selectChatExchanges, chatID).Scan(&rows).Error; err != nil {
		return nil, &StorageError{Op: "fetch chat exchanges", Err: err}
	}
	return rows, nil
}

func (r *Repo) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var c Chat
	res := r.db.WithContext(ctx).Where("id = ?", chatID).Limit(1).Find(&c)
	if res.Error != nil {
		return nil, &StorageError{Op: "get chat", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, &StorageError{Op: "get chat", Err: ErrChatNotFound}
	}
	return &c, nil
}

func (r *Repo) RenameChat(ctx context.Context, chatID int64, title string) error {
	res := r.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", chatID).Update("title", title)
	if res.Error != nil {
		return &StorageError{Op: "rename chat", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		// MySQL reports zero affected rows when the title is unchanged.
		if _, err := r.GetChat(ctx, chatID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteChat removes a Chat with all of its Requests and Messages.
func (r *Repo) DeleteChat(ctx context.Context, chatID int64) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requestIDs := tx.Model(&Request{}).Select("id").Where("chat_id = ?", chatID)
		if err := tx.Where("request_id IN (?)", requestIDs).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&Request{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", chatID).Delete(&Chat{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "delete chat", Err: err}
	}
	return nil
}
