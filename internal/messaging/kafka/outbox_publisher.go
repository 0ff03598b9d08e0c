package kafka

import (
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
// Ключом сообщения служит id заказа, поэтому события одного заказа попадают в одну партицию по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	envelope := NewEnvelope(event, p.producer.timestamp())
	header := sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte(event.EventType)}
	return p.producer.PublishEvent(p.topic, key, envelope, header)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
