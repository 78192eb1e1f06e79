package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/xtrntr/spotex/internal/models"
	"go.uber.org/zap"
)

// KafkaPublisher writes fills to a topic keyed by user id, so every fill of
// one user lands on the same partition in order
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates an asynchronous writer. Delivery failures are
// logged from the writer's completion callback.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("failed to publish fills",
						zap.String("topic", topic),
						zap.Int("messages", len(messages)),
						zap.Error(err))
				}
			},
		},
	}
}

func (p *KafkaPublisher) Notify(ctx context.Context, fill models.Fill) error {
	msg, err := fillMessage(fill)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func fillMessage(fill models.Fill) (kafka.Message, error) {
	value, err := encode(fill)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(fill.UserID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventOrderMatched)},
		},
	}, nil
}
