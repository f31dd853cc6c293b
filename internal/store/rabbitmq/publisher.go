package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/chatvault/internal/chat"
)

// AttemptHeader counts deliveries of a title job across retries.
const AttemptHeader = "x-attempt"

// Publisher enqueues title jobs for cmd/worker.
type Publisher struct {
	conn  *amqp.Connection
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
	retry time.Duration
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue, retry: 10 * time.Second}, nil
}

// DeclareQueues declares the main queue with its retry and dead-letter
// queues, and the fanout exchange for title events. Publisher and worker must agree on these arguments.
func DeclareQueues(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return err
	}

	// Title events fan out from workers to every server process
	if err := ch.ExchangeDeclare(EventsExchange(queue), "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	_, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	)
	return err
}

func RetryQueue(queue string) string { return queue + ".retry" }

func EventsExchange(queue string) string { return queue + ".events" }

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Schedule publishes job to the main queue.
func (p *Publisher) Schedule(ctx context.Context, job chat.TitleJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.publish(ctx, "", p.queue, NewTitleMessage(body, 1, 0))
}

// Retry parks body on the retry queue; it dead-letters back to the main
// queue after a backoff that grows with attempt.
func (p *Publisher) Retry(ctx context.Context, body []byte, attempt int) error {
	return p.publish(ctx, "", RetryQueue(p.queue), NewTitleMessage(body, attempt, time.Duration(attempt)*p.retry))
}

// NewTitleMessage builds a persistent delivery for attempt. A non-zero
// delay sets the per-message TTL used by the retry queue.
func NewTitleMessage(body []byte, attempt int, delay time.Duration) amqp.Publishing {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{AttemptHeader: int32(attempt)},
	}
	if delay > 0 {
		msg.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return msg
}

// Attempt reads AttemptHeader, defaulting to 1.
func Attempt(h amqp.Table) int {
	switch v := h[AttemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 1
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		exchange, // "" is the default exchange
		key,      // routing key = queue there
		false,
		false,
		msg,
	)
}
