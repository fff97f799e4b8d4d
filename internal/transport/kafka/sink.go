// Package kafka mirrors broadcast events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes hub events as {"event","data"} JSON, keyed by event name.
type Sink struct {
	writer messageWriter
	// failed counts messages the async writer could not deliver.
	failed atomic.Int64
}

// NewSink returns nil when brokers or topic is empty. Call Close when
// shutting down.
func NewSink(brokers []string, topic string) *Sink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	s := &Sink{}
	s.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   s.delivered,
	}
	log.Printf("[KAFKA] Mirroring broadcast events to topic %s", topic)
	return s
}

// delivered is the async writer's completion hook. WriteMessages returns
// before delivery, so failures only surface here.
func (s *Sink) delivered(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	s.failed.Add(int64(len(messages)))
	log.Printf("[KAFKA] Failed to deliver %d message(s): %v", len(messages), err)
}

// Failed reports how many messages were dropped after a failed delivery.
func (s *Sink) Failed() int64 {
	if s == nil {
		return 0
	}
	return s.failed.Load()
}

type record struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

func (s *Sink) Emit(ctx context.Context, ev domain.ServerEvent) error {
	if s == nil || s.writer == nil {
		return nil
	}
	payload, err := json.Marshal(record{Event: ev.Name, Data: ev.Data, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(ev.Name), Value: payload}); err != nil {
		log.Printf("[KAFKA] Emit %s failed: %v", ev.Name, err)
		return err
	}
	return nil
}

// Close flushes and closes the writer. Safe on a nil Sink.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
