package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

// KafkaForwarder writes events to Kafka, one Kafka topic per event topic
type KafkaForwarder struct {
	writer *kafka.Writer
	prefix string
}

// NewKafkaForwarder creates a forwarder for brokers
func NewKafkaForwarder(brokers []string, topicPrefix string) (*KafkaForwarder, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka forwarder requires at least one broker")
	}
	return &KafkaForwarder{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		prefix: topicPrefix,
	}, nil
}

// KafkaTopic maps an event topic to its Kafka topic name
func (f *KafkaForwarder) KafkaTopic(topic string) string {
	return f.prefix + strings.ReplaceAll(topic, "/", ".")
}

func (f *KafkaForwarder) Forward(ctx context.Context, e Event) error {
	headers := make([]kafka.Header, 0, len(e.Metadata)+1)
	headers = append(headers, kafka.Header{Key: "event-id", Value: []byte(e.ID)})
	for k, v := range e.Metadata {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return f.writer.WriteMessages(ctx, kafka.Message{
		Topic:   f.KafkaTopic(e.Topic),
		Key:     []byte(e.ID),
		Value:   e.Payload,
		Headers: headers,
		Time:    e.Timestamp,
	})
}

func (f *KafkaForwarder) Close() error {
	return f.writer.Close()
}
