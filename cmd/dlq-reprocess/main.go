// Команда dlq-reprocess перечитывает storefront.dlq и возвращает письма в исходные топики.
// По умолчанию работает в dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envBrokers         = "KAFKA_BROKERS"
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

var errNotReplayable = errors.New("message is not a storefront dead letter")

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	eventType   string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

// replayMessage — событие, восстановленное из письма и готовое к повторной публикации.
type replayMessage struct {
	topic     string
	key       string
	eventType string
	value     []byte
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionReader interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error)
	Close() error
}

// replayPublisher реализуется *kafka.Producer.
type replayPublisher interface {
	PublishRaw(topic, key string, value []byte, headers ...sarama.RecordHeader) error
	Close() error
}

type saramaSource struct {
	sarama.Consumer
}

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionReader, error) {
	return s.Consumer.ConsumePartition(topic, partition, offset)
}

// kafkaConn — всё, что нужно replayer-у от кластера. publisher равен nil в dry-run.
type kafkaConn struct {
	client    offsetClient
	source    partitionSource
	publisher replayPublisher
}

func (c kafkaConn) Close() {
	for _, closer := range []io.Closer{c.publisher, c.source, c.client} {
		if closer != nil {
			_ = closer.Close()
		}
	}
}

var dialKafka = func(opts options) (kafkaConn, error) {
	config := sarama.NewConfig()
	config.ClientID = version.UserAgent()
	config.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, config)
	if err != nil {
		return kafkaConn{}, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return kafkaConn{}, fmt.Errorf("create kafka consumer: %w", err)
	}
	conn := kafkaConn{client: client, source: saramaSource{consumer}}
	if !opts.execute {
		return conn, nil
	}

	producer, err := kafka.NewProducer(opts.brokers, version.UserAgent(),
		kafka.WithProducerLogger(log.WithField("component", "dlq-reprocess")))
	if err != nil {
		conn.Close()
		return kafkaConn{}, err
	}
	conn.publisher = producer
	return conn, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	_ = godotenv.Load()

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}
	if err := run(context.Background(), opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func parseOptions(args []string, lookupEnv func(string) string) (options, error) {
	var (
		opts    options
		brokers string
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", lookupEnv(envBrokers), "comma-separated Kafka brokers (env "+envBrokers+")")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "topic to read dead letters from")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for outbox dead letters")
	fs.StringVar(&opts.eventType, "event-type", "", "replay only this order event type, e.g. order.paid")
	fs.IntVar(&opts.limit, "limit", defaultReplayLimit, "max messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish replayed messages instead of a dry run")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages first")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.brokers = parseBrokers(brokers)
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.targetTopic = strings.TrimSpace(opts.targetTopic)

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or "+envBrokers+")"))
	}
	if opts.sourceTopic == "" || opts.targetTopic == "" {
		errs = append(errs, errors.New("source-topic and target-topic are required"))
	} else if opts.sourceTopic == opts.targetTopic {
		errs = append(errs, errors.New("source-topic and target-topic must differ"))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return opts, errors.Join(errs...)
}

func parseBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func run(ctx context.Context, opts options) error {
	conn, err := dialKafka(opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	r := &replayer{opts: opts, conn: conn, logger: log.WithField("component", "dlq-reprocess")}
	stats, err := r.Run(ctx)
	r.logger.WithFields(log.Fields{
		"mode":      opts.mode(),
		"processed": stats.processed,
		"replayed":  stats.replayed,
		"skipped":   stats.skipped,
	}).Info("dlq replay finished")
	return err
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	opts   options
	conn   kafkaConn
	logger *log.Entry
}

// Run обходит партиции по возрастанию номера, пока не исчерпан общий limit.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats
	if r.conn.client == nil || r.conn.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.conn.publisher == nil {
		return total, errors.New("producer is required in execute mode")
	}

	partitions, err := r.conn.client.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(partitions)

	r.logger.WithFields(log.Fields{
		"source_topic": r.opts.sourceTopic,
		"partitions":   len(partitions),
		"mode":         r.opts.mode(),
	}).Info("starting dlq replay")

	for _, partition := range partitions {
		budget := r.opts.limit - total.processed
		if budget <= 0 {
			break
		}
		stats, err := r.drainPartition(ctx, partition, budget)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// window возвращает offset начала чтения и верхнюю границу, снятую до старта,
// чтобы новые письма, пришедшие во время replay, не читались.
func (r *replayer) window(partition int32, budget int) (start, end int64, err error) {
	oldest, err := r.conn.client.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	end, err = r.conn.client.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	start = oldest
	if r.opts.fromNewest {
		start = max(end-int64(budget), oldest)
	}
	return start, end, nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return stats, err
	}

	reader, err := r.conn.source.ConsumePartition(r.opts.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = reader.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.processed < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumeErr := <-reader.Errors():
			if consumeErr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, consumeErr)
			}
		case msg, ok := <-reader.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)
			stats.processed++

			replayed, err := r.handle(msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= end {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle возвращает false для писем, которые пропущены фильтром или не распознаны.
func (r *replayer) handle(msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	replay, err := extractReplayMessage(msg, r.opts.targetTopic)
	if err != nil {
		entry.WithError(err).Warn("skipping dlq message")
		return false, nil
	}
	if r.opts.eventType != "" && replay.eventType != r.opts.eventType {
		return false, nil
	}

	entry = entry.WithFields(log.Fields{
		"target_topic": replay.topic,
		"key":          replay.key,
		"event_type":   replay.eventType,
	})
	if !r.opts.execute {
		entry.Info("dlq replay candidate")
		return true, nil
	}
	if err := publishReplay(r.conn.publisher, replay); err != nil {
		return false, fmt.Errorf("replay offset %d: %w", msg.Offset, err)
	}
	entry.Info("dlq message replayed")
	return true, nil
}

func publishReplay(publisher replayPublisher, msg replayMessage) error {
	if publisher == nil {
		return errors.New("no publisher configured")
	}
	var headers []sarama.RecordHeader
	if msg.eventType != "" {
		headers = append(headers, sarama.RecordHeader{Key: []byte(kafka.HeaderEventType), Value: []byte(msg.eventType)})
	}
	return publisher.PublishRaw(msg.topic, msg.key, msg.value, headers...)
}

// extractReplayMessage распознаёт оба вида писем: сообщения, которые не смог
// обработать consumer, и события, которые outbox не смог опубликовать.
func extractReplayMessage(msg *sarama.ConsumerMessage, outboxTopic string) (replayMessage, error) {
	if letter, err := kafka.ParseDeadLetter(msg); err == nil && letter.OriginalValue != "" {
		replay := replayMessage{
			topic: firstNonEmpty(strings.TrimSpace(letter.OriginalTopic), outboxTopic),
			key:   letter.OriginalKey,
			value: []byte(letter.OriginalValue),
		}
		if envelope, err := kafka.ParseOrderEnvelope(&sarama.ConsumerMessage{Value: replay.value}); err == nil {
			replay.eventType = envelope.EventType
		}
		return replay, nil
	}

	envelope, err := kafka.ParseOrderEnvelope(msg)
	if err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, errNotReplayable
	}

	var letter domain.OutboxDeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return replayMessage{}, fmt.Errorf("decode outbox dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return replayMessage{}, errors.New("outbox dead letter has no original payload")
	}

	original := letter.Original()
	original.ID = firstNonEmpty(original.ID, envelope.ID)
	original.AggregateType = firstNonEmpty(original.AggregateType, envelope.AggregateType)
	original.AggregateID = firstNonEmpty(original.AggregateID, envelope.AggregateID)
	original.EventType = firstNonEmpty(original.EventType, envelope.EventType)

	encoded, err := json.Marshal(kafka.NewOrderEnvelope(original, time.Now()))
	if err != nil {
		return replayMessage{}, fmt.Errorf("encode replay envelope: %w", err)
	}
	return replayMessage{
		topic:     outboxTopic,
		key:       firstNonEmpty(original.AggregateID, original.ID),
		eventType: original.EventType,
		value:     encoded,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
