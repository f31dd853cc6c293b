package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/ai"
)

const titlePromptTemplate = "Consider the following dialog.\n\n<blockquote>\nQ: %s\n\nA: %s\n\n</blockquote>\n\n" +
	"Please assign a title to this dialog. The title should be in the language of the question " +
	"and fit in the width of roughly 30 latin characters. Reply with the title only."

const maxTitleRunes = 200

// TitlePrompt embeds the first exchange into the title request.
func TitlePrompt(prompt, completion string) string {
	return fmt.Sprintf(titlePromptTemplate, prompt, completion)
}

func cleanTitle(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "\"'“”«»\n\r\t .")
	if r := []rune(s); len(r) > maxTitleRunes {
		s = string(r[:maxTitleRunes])
	}
	return s
}

// Titler generates a chat title from its first exchange and saves it
// through the rename path.
type Titler struct {
	repo     *Repo
	registry *ai.Registry
	events   Emitter
	observer Observer
	log      zerolog.Logger
}

func NewTitler(repo *Repo, registry *ai.Registry, events Emitter, observer Observer, log zerolog.Logger) *Titler {
	if events == nil {
		events = nopEmitter{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Titler{repo: repo, registry: registry, events: events, observer: observer, log: log}
}

func (t *Titler) Generate(ctx context.Context, job TitleJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	t.events.Emit(EventGeneratingTitle, fields{"chat_id": job.ChatID})

	title, err := t.generate(ctx, job)
	if err != nil {
		t.observer.ObserveTitle("failure")
		t.log.Warn().Err(err).Int64("chat_id", job.ChatID).Msg("title generation failed")
		return "", err
	}
	t.observer.ObserveTitle("success")
	t.events.Emit(EventChatTitleGenerated, fields{"chat_id": job.ChatID, "title": title})
	return title, nil
}

func (t *Titler) generate(ctx context.Context, job TitleJob) (string, error) {
	provider, err := t.registry.Get(ctx, job.Provider, job.Model)
	if err != nil {
		return "", &ProviderError{Op: "resolve provider", Err: err}
	}
	comp, err := provider.Chat(ctx, ai.ChatRequest{
		Model:    job.Model,
		Messages: []ai.Message{{Role: ai.RoleUser, Content: TitlePrompt(job.Prompt, job.Completion)}},
	})
	if err != nil {
		return "", &ProviderError{Op: "title completion", Err: err}
	}
	if comp == nil {
		return "", &ProviderError{Op: "title completion", Err: errors.New("empty completion")}
	}
	title := cleanTitle(comp.Content)
	if title == "" {
		return "", &ProviderError{Op: "title completion", Err: errors.New("empty title")}
	}
	if err := t.repo.RenameChat(ctx, job.ChatID, title); err != nil {
		return "", err
	}
	return title, nil
}

// InlineTitles runs title jobs on background goroutines in this process.
type InlineTitles struct {
	titler  *Titler
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewInlineTitles(titler *Titler, timeout time.Duration) *InlineTitles {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &InlineTitles{titler: titler, timeout: timeout}
}

func (s *InlineTitles) Schedule(ctx context.Context, job TitleJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		_, _ = s.titler.Generate(cctx, job)
	}()
	return nil
}

// Wait blocks until every scheduled job has finished.
func (s *InlineTitles) Wait() {
	s.wg.Wait()
}

// fields is an event payload.
type fields = map[string]any
