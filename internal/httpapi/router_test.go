package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/ai"
	"github.com/suPer8Hu/chatvault/internal/auth"
	"github.com/suPer8Hu/chatvault/internal/chat"
	"github.com/suPer8Hu/chatvault/internal/events"
	"github.com/suPer8Hu/chatvault/internal/httpapi/handlers"
	"github.com/suPer8Hu/chatvault/internal/metrics"
	"github.com/suPer8Hu/chatvault/internal/search"
	"gorm.io/gorm"
)

type fakeProvider struct {
	reply string
	err   error
}

func (p *fakeProvider) Chat(context.Context, ai.ChatRequest) (*ai.Completion, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &ai.Completion{Created: 1700000000, Content: p.reply, FinishReason: "stop"}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, prov ai.Provider, secret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "api.sqlite") + "?_pragma=foreign_keys(1)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := chat.NewRepo(db)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := ai.NewRegistry()
	reg.Register("fake", func(context.Context, string) (ai.Provider, error) { return prov, nil })

	bus := events.NewBus(16, zerolog.Nop())
	m := metrics.New()
	svc := chat.NewService(repo, reg, ai.CharCounter{CharsPerToken: 4}, chat.WithDefaults("fake", "test-model"), chat.WithEmitter(bus), chat.WithObserver(m))
	h := handlers.NewHandler(svc, search.NewEngine(zerolog.Nop()), bus, m, zerolog.Nop())
	return NewRouter(h, Options{APISecret: secret, Metrics: m, Log: zerolog.Nop()})
}

func do(t *testing.T, r http.Handler, method, path string, body any, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func TestRouter_ChatLifecycle(t *testing.T) {
	r := newTestRouter(t, &fakeProvider{reply: "Hi there"}, "")

	w, env := do(t, r, http.MethodPost, "/chat/exchanges", gin.H{"prompt": "Hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("exchange status = %d body=%s", w.Code, w.Body.String())
	}
	var res chat.ExchangeResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.ChatCreated || res.Exchange.Completion != "Hi there" || res.Row.Kind != chat.RowResponse {
		t.Fatalf("result = %+v", res)
	}
	chatPath := "/chats/" + strconv.FormatInt(res.ChatID, 10)

	w, env = do(t, r, http.MethodGet, "/chats", nil)
	var list struct {
		Rows []chat.ViewRow `json:"rows"`
	}
	_ = json.Unmarshal(env.Data, &list)
	if w.Code != http.StatusOK || len(list.Rows) != 1 || *list.Rows[0].Prompt != "Hello" {
		t.Fatalf("chats = %d %s", w.Code, w.Body.String())
	}

	if w, _ := do(t, r, http.MethodGet, chatPath+"/history", nil); w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	w, env = do(t, r, http.MethodGet, chatPath+"/transcript", nil)
	var tr struct {
		Rows []chat.DisplayRow `json:"rows"`
	}
	_ = json.Unmarshal(env.Data, &tr)
	if w.Code != http.StatusOK || len(tr.Rows) != 2 || tr.Rows[0].Kind != chat.RowPrompt {
		t.Fatalf("transcript = %s", w.Body.String())
	}

	if w, _ := do(t, r, http.MethodPatch, chatPath, gin.H{"oldTitle": "", "newTitle": "Greeting"}); w.Code != http.StatusNoContent {
		t.Fatalf("rename status = %d", w.Code)
	}
	w, env = do(t, r, http.MethodPatch, chatPath, gin.H{"oldTitle": "Greeting", "newTitle": " "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty rename status = %d", w.Code)
	}
	var rollback struct {
		ChatID   int64  `json:"chatId"`
		OldTitle string `json:"oldTitle"`
	}
	_ = json.Unmarshal(env.Data, &rollback)
	if rollback.ChatID != res.ChatID || rollback.OldTitle != "Greeting" {
		t.Fatalf("rollback data = %s", env.Data)
	}

	w, env = do(t, r, http.MethodGet, "/search?q=hello", nil)
	var found struct {
		Results []search.Result `json:"results"`
	}
	_ = json.Unmarshal(env.Data, &found)
	if w.Code != http.StatusOK || len(found.Results) != 1 || found.Results[0].ChatTitle != "Greeting" {
		t.Fatalf("search = %s", w.Body.String())
	}
	if w, _ := do(t, r, http.MethodGet, "/search?q=h", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("short query status = %d", w.Code)
	}

	w, _ = do(t, r, http.MethodGet, chatPath+"/export.csv", nil)
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "model,system_message,prompt") {
		t.Fatalf("export = %d %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "greeting") {
		t.Fatalf("disposition = %q", w.Header().Get("Content-Disposition"))
	}

	if w, _ := do(t, r, http.MethodDelete, chatPath, nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w, env := do(t, r, http.MethodGet, chatPath+"/history", nil); w.Code != http.StatusNotFound || env.Code != 40401 {
		t.Fatalf("history after delete = %d %d", w.Code, env.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/chats/abc/history", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", w.Code)
	}
}

func TestRouter_ProviderFailureReturnsPrompt(t *testing.T) {
	r := newTestRouter(t, &fakeProvider{err: errors.New("rate limited")}, "")

	w, env := do(t, r, http.MethodPost, "/chat/exchanges", gin.H{"prompt": "Hello"})
	if w.Code != http.StatusBadGateway || env.Code != 50201 {
		t.Fatalf("status = %d code = %d", w.Code, env.Code)
	}
	var data struct {
		Prompt string          `json:"prompt"`
		Row    chat.DisplayRow `json:"row"`
	}
	_ = json.Unmarshal(env.Data, &data)
	if data.Prompt != "Hello" || data.Row.Kind != chat.RowError {
		t.Fatalf("data = %s", env.Data)
	}

	w, env = do(t, r, http.MethodGet, "/chats", nil)
	if w.Code != http.StatusOK || !strings.Contains(string(env.Data), `"rows":[]`) {
		t.Fatalf("chats after failure = %s", w.Body.String())
	}
}

func TestRouter_Auth(t *testing.T) {
	r := newTestRouter(t, &fakeProvider{reply: "x"}, "s3cret")

	if w, _ := do(t, r, http.MethodGet, "/ping", nil); w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	if w, _ := do(t, r, http.MethodGet, "/chats", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", w.Code)
	}
	tok, err := auth.Sign("s3cret", "desktop", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if w, _ := do(t, r, http.MethodGet, "/chats", nil, "Authorization", "Bearer "+tok); w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", w.Code)
	}
}

func TestRouter_MetricsAndNotFound(t *testing.T) {
	r := newTestRouter(t, &fakeProvider{reply: "x"}, "")
	do(t, r, http.MethodGet, "/ping", nil)

	w, _ := do(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "chatvault_http_requests_total") {
		t.Fatalf("metrics = %d", w.Code)
	}
	if w, env := do(t, r, http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("not found = %d %d", w.Code, env.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}


func TestRouter_EventStream(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, &fakeProvider{reply: "Hi there"}, ""))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "event: ") {
				return strings.TrimPrefix(l, "event: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}
	if ev := next(); ev != "ready" {
		t.Fatalf("first event = %q", ev)
	}

	post, err := http.Post(srv.URL+"/chat/exchanges", "application/json", strings.NewReader(`{"prompt":"Hello","chat_title":"t"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()

	want := []string{chat.EventChatCreated, chat.EventResponseReady, chat.EventResponseSuccess}
	for _, w := range want {
		if ev := next(); ev != w {
			t.Fatalf("event = %q, want %q", ev, w)
		}
	}
}
