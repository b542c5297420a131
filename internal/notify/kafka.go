package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"care-dispatch/internal/models"

	kgo "github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaPublisher hands notifications to the delivery service as JSON events,
// keyed by recipient so one recipient's messages stay ordered.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka notification topic is required")
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.LeastBytes{},
		RequiredAcks: kgo.RequireOne,
	}
	return newKafkaPublisher(w), nil
}

func newKafkaPublisher(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 3 * time.Second}
}

func (p *KafkaPublisher) Notify(ctx context.Context, n models.Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(n.RecipientID),
		Value: b,
		Time:  n.CreatedAt,
		Headers: []kgo.Header{
			{Key: "event_type", Value: []byte(n.EventType)},
			{Key: "channel", Value: []byte(n.Channel)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
