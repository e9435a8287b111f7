package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const cartSettleMaxRetries = 3

// kafkaRuntime объединяет producer, публикаторы outbox и consumer очистки корзин.
type kafkaRuntime struct {
	brokers   []string
	producer  *kafka.Producer
	publisher *kafka.OutboxTopicPublisher
	dlq       *kafka.OutboxTopicPublisher
	consumer  *kafka.Consumer
}

// initKafkaProducer инициализирует Kafka producer, если brokers не пустой.
// Возвращает nil, nil для пустого списка брокеров.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := normalizeBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, version.UserAgent(),
		kafka.WithProducerLogger(logger.WithField("component", "kafka-producer")))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initKafka поднимает producer и публикаторы. Без брокеров возвращает nil:
// события копятся в outbox до появления Kafka.
func initKafka(cfg Config, logger *log.Entry) *kafkaRuntime {
	producer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil || producer == nil {
		return nil
	}

	return &kafkaRuntime{
		brokers:   normalizeBrokers(cfg.KafkaBrokers),
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.OrderEventsTopic),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}
}

// startCartSettleConsumer подписывает витрину на события заказов,
// чтобы оплаченные строки уходили из корзины, через какой бы экземпляр ни пришёл webhook.
func (k *kafkaRuntime) startCartSettleConsumer(ctx context.Context, cfg Config, carts kafka.CartSettler, logger *log.Entry) {
	if k == nil {
		return
	}

	router := kafka.NewRouter(logger.WithField("component", "kafka-router")).
		On(domain.OrderEventPaid, kafka.NewCartSettleHandler(carts, logger.WithField("component", "cart-settler")))
	consumer, err := kafka.NewConsumer(k.brokers, cfg.KafkaGroupID, []string{cfg.OrderEventsTopic}, router.Handle,
		kafka.WithDeadLetters(k.producer, cartSettleMaxRetries),
		kafka.WithConsumerClientID(version.UserAgent()),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka consumer, paid lines will stay in carts")
		return
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Warn("failed to start kafka consumer")
		_ = consumer.Stop()
		return
	}
	k.consumer = consumer
}

// close останавливает consumer и закрывает producer.
func (k *kafkaRuntime) close(logger *log.Entry) {
	if k == nil {
		return
	}
	if k.consumer != nil {
		if err := k.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	closeKafka(k.producer, logger)
}

// closeKafka закрывает Kafka producer, если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}
