package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nao1215/politecrawl/internal/crawler"
)

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every event as a JSON Message keyed by run ID.
type Kafka struct {
	writer messageWriter
	runID  string
	now    func() time.Time
}

// NewKafka creates a sink writing to topic on broker.
func NewKafka(broker, topic, runID string) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(broker),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}, runID)
}

// NewKafkaWithWriter builds a sink using a custom writer (tests).
func NewKafkaWithWriter(writer messageWriter, runID string) *Kafka {
	return &Kafka{writer: writer, runID: runID, now: time.Now}
}

// Consume publishes ev.
func (k *Kafka) Consume(ctx context.Context, ev crawler.Event) error {
	now := k.now()
	msg, ok := NewMessage(k.runID, ev, now)
	if !ok {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(k.runID),
		Value: payload,
		Time:  now.UTC(),
	}); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
