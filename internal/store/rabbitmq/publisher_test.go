package rabbitmq

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chatvault/internal/chat"
)

func TestNewTitleMessage(t *testing.T) {
	msg := NewTitleMessage([]byte(`{}`), 3, 1500*time.Millisecond)
	if msg.Expiration != "1500" || msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("message = %+v", msg)
	}
	if Attempt(msg.Headers) != 3 {
		t.Fatalf("attempt = %d", Attempt(msg.Headers))
	}
	if Attempt(nil) != 1 {
		t.Fatalf("missing header must count as the first attempt")
	}
	if NewTitleMessage(nil, 1, 0).Expiration != "" {
		t.Fatalf("first delivery must not expire")
	}
}

func TestPublisher_Schedule(t *testing.T) {
	url := os.Getenv("RABBIT_URL")
	if url == "" {
		t.Skip("RABBIT_URL not set")
	}
	queue := "chatvault_test_" + time.Now().Format("150405.000")
	p, err := NewPublisher(url, queue)
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer p.Close()

	if err := p.Schedule(context.Background(), chat.TitleJob{ChatID: 0}); err == nil {
		t.Fatalf("invalid job accepted")
	}
	if err := p.Schedule(context.Background(), chat.TitleJob{ID: "j1", ChatID: 1, Provider: "openai", Prompt: "Hello"}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	d, ok, err := p.ch.Get(queue, true)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if Attempt(d.Headers) != 1 {
		t.Fatalf("attempt = %d", Attempt(d.Headers))
	}
	_, _ = p.ch.QueueDelete(queue, false, false, false)
	_, _ = p.ch.QueueDelete(RetryQueue(queue), false, false, false)
	_, _ = p.ch.QueueDelete(queue+".dlq", false, false, false)
}
