package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chatvault/internal/chat"
)

// EventMessage is the wire form of a UI event relayed from a worker.
type EventMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventEmitter is a chat.Emitter that publishes events to the events
// exchange. Emit never blocks; events are dropped while the buffer is full.
type EventEmitter struct {
	send   func(ctx context.Context, msg amqp.Publishing) error
	events chan EventMessage
	done   chan struct{}
	log    zerolog.Logger
}

func NewEventEmitter(p *Publisher, log zerolog.Logger) *EventEmitter {
	exchange := EventsExchange(p.queue)
	return newEventEmitter(func(ctx context.Context, msg amqp.Publishing) error {
		return p.publish(ctx, exchange, "", msg)
	}, 64, log)
}

func newEventEmitter(send func(context.Context, amqp.Publishing) error, buffer int, log zerolog.Logger) *EventEmitter {
	e := &EventEmitter{
		send:   send,
		events: make(chan EventMessage, buffer),
		done:   make(chan struct{}),
		log:    log,
	}
	go e.run()
	return e
}

func (e *EventEmitter) Emit(kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn().Err(err).Str("kind", kind).Msg("event payload not encodable")
		return
	}
	select {
	case e.events <- EventMessage{Kind: kind, Payload: raw}:
	default:
		e.log.Warn().Str("kind", kind).Msg("event dropped, buffer full")
	}
}

// Close publishes what is buffered and stops. Emit must not be called after.
func (e *EventEmitter) Close() {
	close(e.events)
	<-e.done
}

func (e *EventEmitter) run() {
	defer close(e.done)
	for ev := range e.events {
		body, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		msg := amqp.Publishing{ContentType: "application/json", Body: body, Timestamp: time.Now()}
		if err := e.send(context.Background(), msg); err != nil {
			e.log.Warn().Err(err).Str("kind", ev.Kind).Msg("event publish failed")
		}
	}
}

// ConsumeEvents binds a private queue to the events exchange and re-emits
// every relayed event on emit until ctx is done.
func (p *Publisher) ConsumeEvents(ctx context.Context, emit chat.Emitter, log zerolog.Logger) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(q.Name, "", EventsExchange(p.queue), false, nil); err != nil {
		return err
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return err
	}
	log.Info().Str("exchange", EventsExchange(p.queue)).Msg("relaying worker events")
	Relay(ctx, msgs, emit, log)
	return nil
}

// Relay forwards deliveries carrying an EventMessage to emit. It returns
// when ctx is done or msgs is closed.
func Relay(ctx context.Context, msgs <-chan amqp.Delivery, emit chat.Emitter, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				return
			}
			var ev EventMessage
			if err := json.Unmarshal(d.Body, &ev); err != nil || ev.Kind == "" {
				log.Warn().Err(err).Msg("bad event message")
				continue
			}
			emit.Emit(ev.Kind, ev.Payload)
		}
	}
}
