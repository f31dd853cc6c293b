package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/ai"
	"github.com/suPer8Hu/chatvault/internal/common"
)

const (
	defaultProvider = "openai"
	defaultModel    = "gpt-3.5-turbo"
)

// BudgetPolicy picks the context budget for a model.
type BudgetPolicy struct {
	Maximum            int
	Reserve            int
	ModelLimits        map[string]int
	CountSystemMessage bool
}

func (p BudgetPolicy) limits(model string) (maximum, reserve int) {
	maximum, reserve = p.Maximum, p.Reserve
	if n, ok := p.ModelLimits[model]; ok && n > 0 {
		maximum = n
	}
	if maximum <= 0 {
		maximum = DefaultMaximumTokens
	}
	if reserve < 0 {
		reserve = DefaultReserveTokens
	}
	return maximum, reserve
}

type Option func(*Service)

func WithGuard(g Guard) Option              { return func(s *Service) { s.guard = g } }
func WithTitles(t TitleScheduler) Option    { return func(s *Service) { s.titles = t } }
func WithEmitter(e Emitter) Option          { return func(s *Service) { s.events = e } }
func WithObserver(o Observer) Option        { return func(s *Service) { s.observer = o } }
func WithLogger(l zerolog.Logger) Option    { return func(s *Service) { s.log = l } }
func WithBudgets(p BudgetPolicy) Option     { return func(s *Service) { s.budgets = p } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithSharedStore is for deployments where several processes write the same
// database behind a shared Guard. The conversation of a chat is then caught
// up from the store every time it is used.
func WithSharedStore() Option { return func(s *Service) { s.shared = true } }
func WithDefaults(provider, model string) Option {
	return func(s *Service) {
		if provider != "" {
			s.defaultProvider = provider
		}
		if model != "" {
			s.defaultModel = model
		}
	}
}

// Service coordinates exchanges: single-flight per conversation, the
// provider call, persistence and the in-memory Sessions.
type Service struct {
	repo     *Repo
	registry *ai.Registry
	counter  ai.TokenCounter
	sessions *Sessions

	guard     Guard
	chatLocks *chatLocks
	titles    TitleScheduler
	events    Emitter
	observer  Observer
	budgets   BudgetPolicy
	shared    bool
	log       zerolog.Logger
	now       func() time.Time

	defaultProvider string
	defaultModel    string
}

func NewService(repo *Repo, registry *ai.Registry, counter ai.TokenCounter, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		registry:        registry,
		counter:         counter,
		sessions:        NewSessions(),
		guard:           NewLocalGuard(),
		chatLocks:       newChatLocks(),
		events:          nopEmitter{},
		observer:        nopObserver{},
		budgets:         BudgetPolicy{Maximum: DefaultMaximumTokens, Reserve: DefaultReserveTokens},
		log:             zerolog.Nop(),
		now:             time.Now,
		defaultProvider: defaultProvider,
		defaultModel:    defaultModel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.counter == nil {
		s.counter = ai.CharCounter{CharsPerToken: 4.0}
	}
	return s
}

func (s *Service) Sessions() *Sessions { return s.sessions }

// Load rebuilds Sessions from the reconstruction view.
func (s *Service) Load(ctx context.Context) error {
	rows, err := s.repo.FetchAllExchanges(ctx)
	if err != nil {
		return err
	}
	s.sessions.hydrate(rows)
	s.log.Info().Int("chats", s.sessions.Len()).Int("rows", len(rows)).Msg("sessions loaded")
	return nil
}

// ExchangeRequest asks for one completion. ChatID is nil for a new
// conversation; DraftID then identifies its single-flight slot.
type ExchangeRequest struct {
	ChatID        *int64         `json:"chat_id"`
	DraftID       string         `json:"draft_id"`
	ChatTitle     string         `json:"chat_title"`
	SystemMessage string         `json:"system_message"`
	Provider      string         `json:"provider"`
	Model         string         `json:"model"`
	Prompt        string         `json:"prompt"`
	Parameters    map[string]any `json:"parameters"`
	NoTrim        bool           `json:"no_trim"`
}

type ExchangeResult struct {
	ChatID      int64      `json:"chat_id"`
	ChatCreated bool       `json:"chat_created"`
	Exchange    Exchange   `json:"exchange"`
	Evicted     int        `json:"evicted"`
	Row         DisplayRow `json:"row"`
}

func (r *ExchangeRequest) normalize(defProvider, defModel string) error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "must not be empty"}
	}
	if r.ChatID != nil && *r.ChatID <= 0 {
		return &ValidationError{Field: "chat_id", Reason: "must be positive"}
	}
	r.Provider = strings.TrimSpace(r.Provider)
	if r.Provider == "" {
		r.Provider = defProvider
	}
	r.Model = strings.TrimSpace(r.Model)
	if r.Model == "" {
		r.Model = defModel
	}
	if r.Model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	return nil
}

// Exchange sends a prompt with the conversation's live context and records
// the result. While an exchange is in flight for the same conversation a
// second call returns ErrExchangeInFlight without any side effect. On
// failure nothing is stored, the conversation is unchanged and the error
// is an *ExchangeError carrying the prompt.
func (s *Service) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	if err := req.normalize(s.defaultProvider, s.defaultModel); err != nil {
		return nil, err
	}
	var chatID int64
	if req.ChatID != nil {
		chatID = *req.ChatID
	} else if req.DraftID == "" {
		id, err := common.NewULID()
		if err != nil {
			return nil, err
		}
		req.DraftID = id
	}

	key := FlightKey(chatID, req.DraftID)
	release, ok, err := s.guard.TryAcquire(ctx, key)
	if err != nil {
		return nil, &StorageError{Op: "acquire flight", Err: err}
	}
	if !ok {
		s.log.Debug().Str("flight", key).Msg("exchange rejected, already in flight")
		return nil, ErrExchangeInFlight
	}
	defer release()

	start := s.now()
	res, err := s.exchange(ctx, req)
	elapsed := s.now().Sub(start)
	s.events.Emit(EventResponseReady, fields{"chat_id": chatID, "draft_id": req.DraftID})

	if err != nil {
		s.observer.ObserveExchange(outcome(err), elapsed)
		s.log.Warn().Err(err).Str("flight", key).Str("model", req.Model).Msg("exchange failed")
		s.events.Emit(EventResponseError, fields{
			"chat_id":  chatID,
			"draft_id": req.DraftID,
			"prompt":   req.Prompt,
			"row":      ErrorRow(err),
		})
		return nil, &ExchangeError{ChatID: chatID, Prompt: req.Prompt, Err: err}
	}

	s.observer.ObserveExchange("success", elapsed)
	s.observer.ObserveEviction(res.Evicted)
	s.events.Emit(EventResponseSuccess, fields{
		"chat_id":  res.ChatID,
		"draft_id": req.DraftID,
		"exchange": res.Exchange,
	})
	s.log.Info().
		Int64("chat_id", res.ChatID).
		Int64("request_id", res.Exchange.RequestID).
		Str("model", req.Model).
		Int("evicted", res.Evicted).
		Dur("duration", elapsed).
		Msg("exchange saved")

	if res.ChatCreated && strings.TrimSpace(req.ChatTitle) == "" {
		s.scheduleTitle(ctx, req, res)
	}
	return res, nil
}

func (s *Service) exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	var conv *Conversation
	isNew := req.ChatID == nil
	if isNew {
		conv = NewConversation(0, req.SystemMessage)
	} else {
		c, err := s.conversation(ctx, *req.ChatID)
		if err != nil {
			return nil, err
		}
		conv = c
	}

	maximum, reserve := s.budgets.limits(req.Model)
	budget := Budget{Maximum: maximum, Reserve: reserve}
	if s.budgets.CountSystemMessage {
		budget.SystemTokens = s.counter.Count(req.Model, conv.SystemMessage())
	}
	conv.SetBudget(budget)

	// eviction is applied only once the exchange has been saved
	var msgs []ai.Message
	evicted := 0
	if req.NoTrim {
		msgs = conv.ContextArray(false)
	} else {
		msgs, evicted = conv.PreviewContext(maximum, reserve)
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: req.Prompt})

	provider, err := s.registry.Get(ctx, req.Provider, req.Model)
	if err != nil {
		return nil, &ProviderError{Op: "resolve provider", Err: err}
	}
	comp, err := provider.Chat(ctx, ai.ChatRequest{Model: req.Model, Messages: msgs, Parameters: req.Parameters})
	if err != nil {
		return nil, &ProviderError{Op: "chat completion", Err: err}
	}
	if comp == nil {
		return nil, &ProviderError{Op: "chat completion", Err: errors.New("empty completion")}
	}

	created := comp.Created
	if created == 0 {
		created = s.now().Unix()
	}
	rec := ExchangeRecord{
		Model:            req.Model,
		Created:          created,
		Parameters:       req.Parameters,
		FinishReason:     comp.FinishReason,
		Prompt:           req.Prompt,
		PromptTokens:     s.counter.Count(req.Model, req.Prompt),
		Completion:       comp.Content,
		CompletionTokens: comp.CompletionTokens,
	}
	if rec.CompletionTokens == 0 {
		rec.CompletionTokens = s.counter.Count(req.Model, comp.Content)
	}

	x := Exchange{
		Timestamp:        rec.Created,
		Model:            rec.Model,
		Prompt:           rec.Prompt,
		Completion:       rec.Completion,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		FinishReason:     rec.FinishReason,
	}

	if isNew {
		chatID, requestID, err := s.repo.StartChat(ctx, req.ChatTitle, req.SystemMessage, rec)
		if err != nil {
			return nil, err
		}
		x.RequestID = requestID
		conv.setChatID(chatID)
		s.commit(conv, req, x)
		s.sessions.put(conv)
		s.events.Emit(EventChatCreated, fields{
			"chat_id":        chatID,
			"draft_id":       req.DraftID,
			"title":          req.ChatTitle,
			"system_message": req.SystemMessage,
		})
		return &ExchangeResult{ChatID: chatID, ChatCreated: true, Exchange: x, Evicted: evicted, Row: responseRow(x)}, nil
	}

	chatID := *req.ChatID
	unlock := s.chatLocks.lock(chatID)
	defer unlock()
	if _, ok := s.sessions.Get(chatID); !ok {
		return nil, &StorageError{Op: "insert exchange", Err: ErrChatNotFound}
	}
	if s.shared {
		// another process may have deleted it during the provider call
		if _, err := s.repo.GetChat(ctx, chatID); err != nil {
			s.sessions.remove(chatID)
			return nil, err
		}
	}
	rec.ChatID = chatID
	requestID, err := s.repo.InsertExchange(ctx, rec)
	if err != nil {
		return nil, err
	}
	x.RequestID = requestID
	s.commit(conv, req, x)
	return &ExchangeResult{ChatID: chatID, Exchange: x, Evicted: evicted, Row: responseRow(x)}, nil
}

func (s *Service) commit(conv *Conversation, req ExchangeRequest, x Exchange) {
	if !req.NoTrim {
		maximum, reserve := s.budgets.limits(req.Model)
		conv.Trim(maximum, reserve)
	}
	conv.catchUp(x)
}

// conversation returns the live Conversation of a saved chat. A chat missing
// from Sessions is rebuilt from the store; with WithSharedStore a known chat
// is also caught up with exchanges written by other processes.
func (s *Service) conversation(ctx context.Context, chatID int64) (*Conversation, error) {
	conv, ok := s.sessions.Get(chatID)
	if ok && !s.shared {
		return conv, nil
	}
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			s.sessions.remove(chatID)
		}
		return nil, err
	}
	rows, err := s.repo.FetchChatExchanges(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !ok {
		conv = s.sessions.getOrPut(NewConversation(c.ID, c.SystemMessage))
	}
	xs := make([]Exchange, 0, len(rows))
	for _, row := range rows {
		xs = append(xs, exchangeFromRow(row))
	}
	if n := conv.catchUp(xs...); n > 0 {
		s.log.Debug().Int64("chat_id", chatID).Int("exchanges", n).Msg("conversation caught up from store")
	}
	return conv, nil
}

func (s *Service) scheduleTitle(ctx context.Context, req ExchangeRequest, res *ExchangeResult) {
	if s.titles == nil {
		return
	}
	id, _ := common.NewULID()
	job := TitleJob{
		ID:         id,
		ChatID:     res.ChatID,
		Provider:   req.Provider,
		Model:      req.Model,
		Prompt:     res.Exchange.Prompt,
		Completion: res.Exchange.Completion,
	}
	if err := s.titles.Schedule(context.WithoutCancel(ctx), job); err != nil {
		s.observer.ObserveTitle("schedule_failed")
		s.log.Warn().Err(err).Int64("chat_id", res.ChatID).Msg("title job not scheduled")
	}
}

func responseRow(x Exchange) DisplayRow {
	return DisplayRow{Kind: RowResponse, Text: x.Completion, Avatar: AvatarAssistant, RequestID: x.RequestID}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrProvider):
		return "provider_error"
	case errors.Is(err, ErrStorage):
		return "storage_error"
	default:
		return "error"
	}
}

// InFlight reports whether the conversation keyed by chatID or draftID is
// waiting for a response.
func (s *Service) InFlight(ctx context.Context, chatID int64, draftID string) (bool, error) {
	return s.guard.Held(ctx, FlightKey(chatID, draftID))
}

// SavedChats returns every row of the reconstruction view.
func (s *Service) SavedChats(ctx context.Context) ([]ViewRow, error) {
	return s.repo.FetchAllExchanges(ctx)
}

// ChatExchanges returns the view rows of one chat.
func (s *Service) ChatExchanges(ctx context.Context, chatID int64) ([]ViewRow, error) {
	if chatID <= 0 {
		return nil, &ValidationError{Field: "chat_id", Reason: "must be positive"}
	}
	if _, err := s.repo.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.repo.FetchChatExchanges(ctx, chatID)
}

func (s *Service) History(ctx context.Context, chatID int64) ([]HistoryEntry, error) {
	conv, err := s.conversation(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return conv.HistoryArray(), nil
}

func (s *Service) Transcript(ctx context.Context, chatID int64) ([]DisplayRow, error) {
	h, err := s.History(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return TranscriptRows(h), nil
}

// ResetContext empties the live context of a chat; history stays.
// With WithSharedStore the reset is local to this process.
func (s *Service) ResetContext(ctx context.Context, chatID int64) error {
	conv, err := s.conversation(ctx, chatID)
	if err != nil {
		return err
	}
	conv.ResetContext()
	return nil
}

func (s *Service) RenameChat(ctx context.Context, chatID int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if chatID <= 0 {
		return &ValidationError{Field: "chat_id", Reason: "must be positive"}
	}
	unlock := s.chatLocks.lock(chatID)
	defer unlock()
	return s.repo.RenameChat(ctx, chatID, title)
}

// DeleteChat removes a chat and its conversation. It is serialized with
// exchange writes on the same chat; an exchange whose provider call is
// still running when the chat goes away fails with ErrChatNotFound.
func (s *Service) DeleteChat(ctx context.Context, chatID int64) error {
	if chatID <= 0 {
		return &ValidationError{Field: "chat_id", Reason: "must be positive"}
	}
	unlock := s.chatLocks.lock(chatID)
	defer unlock()
	if err := s.repo.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	s.sessions.remove(chatID)
	s.events.Emit(EventChatDeleted, fields{"chat_id": chatID})
	s.log.Info().Int64("chat_id", chatID).Msg("chat deleted")
	return nil
}
