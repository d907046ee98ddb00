package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"candidate-harvester/internal/models"
)

// CandidatePublisher publishes handed-off candidate records.
type CandidatePublisher interface {
	WriteCandidate(ctx context.Context, record models.CandidateRecord) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka writer bound to one topic.
type Producer struct {
	writer messageWriter
	now    func() time.Time
}

// NewProducer creates a Kafka producer for the given broker and topic.
func NewProducer(broker, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
		},
		now: time.Now,
	}
}

// NewProducerWithWriter builds a producer using a custom writer (tests).
func NewProducerWithWriter(writer messageWriter) *Producer {
	return &Producer{writer: writer, now: time.Now}
}

// Close shuts down the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// WriteCandidate publishes a candidate record keyed by profile URL, so every record for one
// person lands on the same partition.
func (p *Producer) WriteCandidate(ctx context.Context, record models.CandidateRecord) error {
	return p.write(ctx, record.Candidate.ProfileURL, record)
}

// PublishFailure publishes an abandoned unit keyed by its (company, role) key.
func (p *Producer) PublishFailure(ctx context.Context, failure models.UnitFailure) error {
	return p.write(ctx, failure.Unit.Key(), failure)
}

func (p *Producer) write(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  p.now().UTC(),
	}

	return p.writer.WriteMessages(ctx, msg)
}
