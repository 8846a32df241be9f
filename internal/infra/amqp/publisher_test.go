package amqp

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type recordingChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange = exchange
	c.key = key
	c.msg = msg
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestPublishRoutesByEventType(t *testing.T) {
	ch := &recordingChannel{}
	p := NewPublisher(ch, "quiz.events", nil)

	if err := p.Publish(context.Background(), "attempt.submitted", map[string]int{"score": 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ch.exchange != "quiz.events" || ch.key != "attempt.submitted" {
		t.Fatalf("unexpected routing %s/%s", ch.exchange, ch.key)
	}
	if ch.msg.ContentType != "application/json" {
		t.Fatalf("unexpected content type %q", ch.msg.ContentType)
	}

	var env struct {
		Type    string         `json:"type"`
		Payload map[string]int `json:"payload"`
	}
	if err := json.Unmarshal(ch.msg.Body, &env); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if env.Type != "attempt.submitted" || env.Payload["score"] != 3 {
		t.Fatalf("unexpected envelope %+v", env)
	}

	p.Close()
	if !ch.closed {
		t.Fatalf("expected channel closed")
	}
}
