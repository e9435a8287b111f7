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
	defaultRetryDelay      = 200 * time.Millisecond
	defaultMaxRetries      = 3
	defaultRejoinBackoff   = time.Second
	consumerComponentField = "kafka-consumer"
)

// MessageHandler обрабатывает одно сообщение. Ошибка означает «повторить».
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

type consumerSettings struct {
	logger        *log.Entry
	clientID      string
	dlq           *Producer
	maxRetries    int
	retryDelay    time.Duration
	rejoinBackoff time.Duration
	initialOffset int64
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*consumerSettings)

// WithDeadLetters после maxRetries неудач перекладывает сообщение в TopicDeadLetterQueue.
func WithDeadLetters(producer *Producer, maxRetries int) ConsumerOption {
	return func(s *consumerSettings) {
		s.dlq = producer
		s.maxRetries = maxRetries
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(s *consumerSettings) { s.logger = logger }
}

// WithConsumerClientID задаёт client.id, под которым группа видна в брокере.
func WithConsumerClientID(clientID string) ConsumerOption {
	return func(s *consumerSettings) { s.clientID = clientID }
}

// WithRetryDelay задаёт шаг линейной паузы между повторами обработки.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(s *consumerSettings) { s.retryDelay = delay }
}

// WithOldestOffset читает топик с начала, если у группы ещё нет закоммиченного offset.
func WithOldestOffset() ConsumerOption {
	return func(s *consumerSettings) { s.initialOffset = sarama.OffsetOldest }
}

// Consumer читает топики в составе consumer group и отдаёт сообщения handler.
// Сообщение коммитится после успешной обработки или успешной отправки в DLQ.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	consumerSettings

	wg sync.WaitGroup
}

// NewConsumer подключается к брокерам как участник группы groupID.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, opts ...ConsumerOption) (*Consumer, error) {
	settings := defaultConsumerSettings(opts...)

	config := sarama.NewConfig()
	if settings.clientID != "" {
		config.ClientID = settings.clientID
	}
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = settings.initialOffset
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}
	return newConsumer(group, topics, handler, settings), nil
}

func defaultConsumerSettings(opts ...ConsumerOption) consumerSettings {
	settings := consumerSettings{
		maxRetries:    defaultMaxRetries,
		retryDelay:    defaultRetryDelay,
		rejoinBackoff: defaultRejoinBackoff,
		initialOffset: sarama.OffsetNewest,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	if settings.logger == nil {
		settings.logger = log.WithField("component", consumerComponentField)
	}
	if settings.maxRetries <= 0 {
		settings.maxRetries = 1
	}
	return settings
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, settings consumerSettings) *Consumer {
	return &Consumer{
		group:            group,
		topics:           topics,
		handler:          handler,
		consumerSettings: settings,
	}
}

// Start запускает чтение в фоне и сразу возвращается.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("kafka consumer has no handler")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx)
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// consumeLoop заново входит в группу после каждого rebalance. При ошибке
// ждёт rejoinBackoff, чтобы не крутиться вхолостую при недоступном брокере.
func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		err := c.group.Consume(ctx, c.topics, c)
		if ctx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if err == nil {
			continue
		}

		c.logger.WithError(err).Error("consume failed, rejoining group")
		if c.rejoinBackoff <= 0 {
			continue
		}
		timer := time.NewTimer(c.rejoinBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop закрывает группу и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения одной партиции по порядку.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
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

			if err := c.process(session.Context(), message); err != nil {
				// без MarkMessage offset не двигается: после rebalance сообщение прочитают снова
				entry.WithError(err).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		}
	}
}

// process вызывает handler, пока суммарное число попыток (с учётом
// HeaderRetryCount от предыдущих циклов) не достигнет maxRetries.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := retryCount(message)
	var err error
	for {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		attempts++
		if attempts >= c.maxRetries {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":    message.Topic,
			"attempts": attempts,
		}).Warn("message handler failed, retrying")
		if err := c.pause(ctx, attempts); err != nil {
			return err
		}
	}

	if c.dlq == nil {
		return err
	}
	if dlqErr := c.deadLetter(message, err, attempts); dlqErr != nil {
		return fmt.Errorf("send to dlq: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"attempts": attempts,
	}).Warn("message moved to DLQ")
	return nil
}

func (c *Consumer) pause(ctx context.Context, attempt int) error {
	if c.retryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(c.retryDelay * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Consumer) deadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC()
	letter := DeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      cause.Error(),
		FailedAt:          failedAt,
		RetryCount:        attempts,
	}

	return c.dlq.PublishEvent(TopicDeadLetterQueue, string(message.Key), letter,
		header(HeaderOriginalTopic, message.Topic),
		header(HeaderErrorMessage, cause.Error()),
		header(HeaderFailedAt, failedAt.Format(time.RFC3339)),
		header(HeaderRetryCount, strconv.Itoa(attempts)),
	)
}

func retryCount(message *sarama.ConsumerMessage) int {
	count, err := strconv.Atoi(headerValue(message, HeaderRetryCount))
	if err != nil || count < 0 {
		return 0
	}
	return count
}

func header(key, value string) sarama.RecordHeader {
	return sarama.RecordHeader{Key: []byte(key), Value: []byte(value)}
}
