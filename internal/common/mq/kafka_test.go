package mq

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	messages []kafka.Message
	closed   int
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

func TestKafkaProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducerWithWriter(w)

	msg := NewMessage("sol-1", []byte(`{"status":"Accepted"}`))
	msg.SetHeader("trace_id", "t-1")
	if err := p.Publish(context.Background(), "judger.verdict.final", msg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(w.messages))
	}
	got := w.messages[0]
	if got.Topic != "judger.verdict.final" || string(got.Key) != "sol-1" {
		t.Fatalf("unexpected routing: topic=%s key=%s", got.Topic, got.Key)
	}
	headers := map[string]string{}
	for _, h := range got.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["trace_id"] != "t-1" || headers[headerID] != "sol-1" {
		t.Fatalf("unexpected headers: %v", headers)
	}
	if headers[headerTimestamp] == "" {
		t.Fatalf("timestamp header missing")
	}
}

func TestKafkaProducerRejectsInvalidInput(t *testing.T) {
	p := newKafkaProducerWithWriter(&fakeWriter{})
	if err := p.Publish(context.Background(), "topic", nil); err == nil {
		t.Fatalf("expected nil message error")
	}
	if err := p.Publish(context.Background(), "", NewMessage("id", nil)); err == nil {
		t.Fatalf("expected topic error")
	}
}

func TestKafkaProducerCloseOnce(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaProducerWithWriter(w)
	_ = p.Close()
	_ = p.Close()
	if w.closed != 1 {
		t.Fatalf("expected a single close, got %d", w.closed)
	}
	if err := p.Publish(context.Background(), "topic", NewMessage("id", nil)); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestNewKafkaProducerRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected brokers error")
	}
}
