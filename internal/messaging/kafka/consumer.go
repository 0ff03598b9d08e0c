package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение. Ошибка запускает повтор.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerConfig описывает группу и политику повторов.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string

	// MaxRetries задаёт общий лимит попыток с учётом x-retry-count из заголовков.
	MaxRetries int
	RetryDelay time.Duration

	// DLQ и DLQTopic включают перенос сообщения, исчерпавшего попытки.
	DLQ      *Producer
	DLQTopic string

	Logger *log.Entry
}

func (c *ConsumerConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.DLQTopic == "" {
		c.DLQTopic = TopicDeadLetterQueue
	}
	if c.Logger == nil {
		c.Logger = log.WithField("component", "kafka-consumer")
	}
}

// Consumer читает consumer group и передаёт сообщения партиции в handler по порядку.
type Consumer struct {
	group   sarama.ConsumerGroup
	cfg     ConsumerConfig
	handler MessageHandler
	logger  *log.Entry
	wg      sync.WaitGroup
}

// NewConsumer подключается к группе. Новая группа начинает с самого раннего offset.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %q: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler MessageHandler) *Consumer {
	cfg.applyDefaults()
	return &Consumer{group: group, cfg: cfg, handler: handler, logger: cfg.Logger}
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume возвращается на каждом rebalance
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.cfg.Topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("consume session ended with error")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.cfg.Topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim коммитит offset только после успешной обработки или переноса в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.deliver(ctx, message, entry); err != nil {
				entry.WithError(err).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// deliver вызывает handler, пока не кончится бюджет попыток, затем пробует DLQ.
func (c *Consumer) deliver(ctx context.Context, message *sarama.ConsumerMessage, entry *log.Entry) error {
	attempt := retryCount(message)
	for {
		err := c.handler(ctx, message)
		if err == nil {
			return nil
		}
		attempt++
		if attempt >= c.cfg.MaxRetries {
			return c.deadLetter(message, attempt, err, entry)
		}
		entry.WithError(err).WithField("attempt", attempt).Warn("message handler failed, retrying")
		if err := sleepCtx(ctx, c.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, attempts int, cause error, entry *log.Entry) error {
	if c.cfg.DLQ == nil {
		return fmt.Errorf("giving up after %d attempts: %w", attempts, cause)
	}

	failedAt := time.Now().UTC()
	record := DLQMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	}
	err := c.cfg.DLQ.PublishEvent(c.cfg.DLQTopic, string(message.Key), record,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderErrorMessage), Value: []byte(cause.Error())},
		sarama.RecordHeader{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
		sarama.RecordHeader{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(attempts))},
	)
	if err != nil {
		return fmt.Errorf("publish to dlq %s: %w", c.cfg.DLQTopic, err)
	}
	entry.WithField("attempts", attempts).Warn("message moved to dlq")
	return nil
}

// retryCount читает x-retry-count; отсутствующий или битый заголовок даёт 0.
func retryCount(message *sarama.ConsumerMessage) int {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == HeaderRetryCount {
			n, err := strconv.Atoi(string(h.Value))
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
