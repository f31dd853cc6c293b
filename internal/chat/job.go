package chat

import (
	"context"
	"errors"
	"strings"
)

// TitleJob asks for a title for a freshly created, untitled chat based on
// its first exchange.
type TitleJob struct {
	ID         string `json:"id"`
	ChatID     int64  `json:"chat_id"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

func (j TitleJob) Validate() error {
	if j.ChatID <= 0 {
		return errors.New("title job: chat_id required")
	}
	if strings.TrimSpace(j.Prompt) == "" {
		return errors.New("title job: prompt required")
	}
	return nil
}

// TitleScheduler hands a TitleJob to whatever runs it.
type TitleScheduler interface {
	Schedule(ctx context.Context, job TitleJob) error
}

// TitleSchedulerFunc adapts a function to TitleScheduler.
type TitleSchedulerFunc func(ctx context.Context, job TitleJob) error

func (f TitleSchedulerFunc) Schedule(ctx context.Context, job TitleJob) error { return f(ctx, job) }
