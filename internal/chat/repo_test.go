package chat

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "chat.sqlite") + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := NewRepo(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func sampleRecord(chatID int64, prompt, completion string) ExchangeRecord {
	return ExchangeRecord{
		ChatID:           chatID,
		Model:            "gpt-3.5-turbo",
		Created:          1700000000,
		Parameters:       map[string]any{"temperature": 0.7},
		FinishReason:     "stop",
		Prompt:           prompt,
		PromptTokens:     2,
		Completion:       completion,
		CompletionTokens: 3,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	if err := NewRepo(db).Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestInsertExchange_WritesRequestAndBothMessages(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	chatID, err := repo.CreateChat(ctx, "", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	reqID, err := repo.InsertExchange(ctx, sampleRecord(chatID, "Hello", "Hi there"))
	if err != nil {
		t.Fatalf("insert exchange: %v", err)
	}

	var msgs []Message
	if err := db.Where("request_id = ?", reqID).Order("id ASC").Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "Hello" || deref(msgs[0].Tokens) != 2 {
		t.Fatalf("unexpected prompt row: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hi there" || deref(msgs[1].Tokens) != 3 {
		t.Fatalf("unexpected completion row: %+v", msgs[1])
	}

	var req Request
	if err := db.First(&req, reqID).Error; err != nil {
		t.Fatalf("load request: %v", err)
	}
	var params map[string]any
	if err := json.Unmarshal(req.Parameters, &params); err != nil || params["temperature"] != 0.7 {
		t.Fatalf("parameters = %s (%v)", req.Parameters, err)
	}
}

func TestInsertExchange_MissingChatLeavesNothing(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	_, err := repo.InsertExchange(context.Background(), sampleRecord(999, "Hello", "Hi"))
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected storage/not-found error, got %v", err)
	}
	if n := countRows(t, db, &Request{}); n != 0 {
		t.Fatalf("requests = %d", n)
	}
	if n := countRows(t, db, &Message{}); n != 0 {
		t.Fatalf("messages = %d", n)
	}
}

func TestInsertExchange_FailureRollsBackRequest(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	chatID, err := repo.CreateChat(ctx, "t", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	// break the Message table so the second insert of the transaction fails
	if err := db.Exec("DROP TABLE Message").Error; err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := repo.InsertExchange(ctx, sampleRecord(chatID, "Hello", "Hi")); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if n := countRows(t, db, &Request{}); n != 0 {
		t.Fatalf("request row survived a failed exchange: %d", n)
	}
}

func TestStartChat_AtomicWithFirstExchange(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)

	chatID, reqID, err := repo.StartChat(context.Background(), "", "sys", sampleRecord(0, "Hello", "Hi there"))
	if err != nil {
		t.Fatalf("start chat: %v", err)
	}
	if chatID == 0 || reqID == 0 {
		t.Fatalf("ids not set: chat=%d request=%d", chatID, reqID)
	}
	c, err := repo.GetChat(context.Background(), chatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if c.Title != "" || c.SystemMessage != "sys" {
		t.Fatalf("unexpected chat: %+v", c)
	}
}

func TestFetchAllExchanges_RoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	a, _, err := repo.StartChat(ctx, "A", "sa", sampleRecord(0, "a1", "A1"))
	if err != nil {
		t.Fatalf("start a: %v", err)
	}
	b, _, err := repo.StartChat(ctx, "B", "", sampleRecord(0, "b1", "B1"))
	if err != nil {
		t.Fatalf("start b: %v", err)
	}
	if _, err := repo.InsertExchange(ctx, sampleRecord(a, "a2", "A2")); err != nil {
		t.Fatalf("insert a2: %v", err)
	}

	rows, err := repo.FetchAllExchanges(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d", len(rows))
	}
	wantPrompts := []string{"a1", "b1", "a2"}
	for i, row := range rows {
		if deref(row.Prompt) != wantPrompts[i] {
			t.Fatalf("row %d prompt = %q, want %q", i, deref(row.Prompt), wantPrompts[i])
		}
		if i > 0 && deref(row.RequestID) <= deref(rows[i-1].RequestID) {
			t.Fatalf("rows not ordered by request id")
		}
	}
	if rows[0].ChatTitle != "A" || rows[0].SystemMessage != "sa" || deref(rows[0].PromptTokens) != 2 || deref(rows[0].CompletionTokens) != 3 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if deref(rows[0].CompletionCreated) != 1700000000 || deref(rows[0].Model) != "gpt-3.5-turbo" || deref(rows[0].FinishReason) != "stop" {
		t.Fatalf("unexpected request columns: %+v", rows[0])
	}

	sessions := NewSessions()
	sessions.hydrate(rows)
	convA, ok := sessions.Get(a)
	if !ok {
		t.Fatalf("chat a not hydrated")
	}
	hist := convA.HistoryArray()
	if len(hist) != 2 || hist[0].Prompt != "a1" || hist[1].Completion != "A2" {
		t.Fatalf("history a = %+v", hist)
	}
	if convA.SystemMessage() != "sa" {
		t.Fatalf("system message = %q", convA.SystemMessage())
	}
	if convB, ok := sessions.Get(b); !ok || convB.Len() != 1 {
		t.Fatalf("chat b not hydrated")
	}
}

func TestDeleteChat_Cascades(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	keep, _, _ := repo.StartChat(ctx, "keep", "", sampleRecord(0, "k", "K"))
	gone, _, _ := repo.StartChat(ctx, "gone", "", sampleRecord(0, "g", "G"))
	if _, err := repo.InsertExchange(ctx, sampleRecord(gone, "g2", "G2")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := repo.DeleteChat(ctx, gone); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := countRows(t, db, &Request{}); n != 1 {
		t.Fatalf("requests = %d, want 1", n)
	}
	if n := countRows(t, db, &Message{}); n != 2 {
		t.Fatalf("messages = %d, want 2", n)
	}
	if _, err := repo.GetChat(ctx, keep); err != nil {
		t.Fatalf("kept chat missing: %v", err)
	}
	if err := repo.DeleteChat(ctx, gone); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("second delete = %v", err)
	}
}

func TestRenameChat(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	ctx := context.Background()

	id, err := repo.CreateChat(ctx, "old", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.RenameChat(ctx, id, "new"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	c, _ := repo.GetChat(ctx, id)
	if c.Title != "new" {
		t.Fatalf("title = %q", c.Title)
	}
	if err := repo.RenameChat(ctx, id+100, "x"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("rename missing = %v", err)
	}
}
