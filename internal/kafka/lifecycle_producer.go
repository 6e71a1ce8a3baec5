package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/pkg/log"
)

const (
	headerEventType = "event_type"
	headerMessageID = "message_id"

	flushTimeout       = 5 * time.Second
	topicCreateTimeout = 10 * time.Second
)

// ProducerConfig selects the cluster and topic lifecycle events go to.
type ProducerConfig struct {
	Brokers    string
	Topic      string
	Partitions int
}

// LifecycleProducer publishes message lifecycle events keyed by
// conversation, so every event of one conversation lands on one partition
// in the order it was produced.
type LifecycleProducer struct {
	producer *kafka.Producer
	topic    string
	failed   atomic.Int64
	drained  chan struct{}
}

func NewLifecycleProducer(cfg ProducerConfig) (*LifecycleProducer, error) {
	if err := createTopic(cfg); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("could not create lifecycle topic")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Brokers,
		"client.id":          "chatting-lifecycle",
		"enable.idempotence": true,
		"linger.ms":          10,
		"compression.type":   "lz4",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	lp := &LifecycleProducer{producer: p, topic: cfg.Topic, drained: make(chan struct{})}
	go lp.watchDeliveries()
	return lp, nil
}

// createTopic is best effort; an existing topic is left as is.
func createTopic(cfg ProducerConfig) error {
	partitions := cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{"bootstrap.servers": cfg.Brokers})
	if err != nil {
		return err
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), topicCreateTimeout)
	defer cancel()
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             cfg.Topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			return r.Error
		}
	}
	return nil
}

// buildMessage encodes event for topic. The record timestamp is the time
// the transition happened, not the time it was produced.
func buildMessage(topic string, event *domain.LifecycleEvent) (*kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode lifecycle event: %w", err)
	}

	headers := []kafka.Header{{Key: headerEventType, Value: []byte(event.Type)}}
	if event.MessageID != 0 {
		headers = append(headers, kafka.Header{
			Key:   headerMessageID,
			Value: []byte(strconv.FormatUint(event.MessageID, 10)),
		})
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.ConversationKey()),
		Value:          value,
		Timestamp:      event.OccurredAt,
		Headers:        headers,
	}, nil
}

// Publish queues event for delivery. Broker failures surface later through
// the delivery reports and Failed.
func (p *LifecycleProducer) Publish(ctx context.Context, event *domain.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := buildMessage(p.topic, event)
	if err != nil {
		return err
	}
	if err := p.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to queue %s event: %w", event.Type, err)
	}
	return nil
}

func (p *LifecycleProducer) watchDeliveries() {
	defer close(p.drained)
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error == nil {
				continue
			}
			p.failed.Add(1)
			l := log.L()
			l.Warn().Err(ev.TopicPartition.Error).
				Str(log.FieldEvent, headerValue(ev.Headers, headerEventType)).
				Str("conversation", string(ev.Key)).
				Msg("lifecycle event not delivered")
		case kafka.Error:
			l := log.L()
			l.Warn().Err(ev).Msg("kafka producer error")
		}
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Failed returns how many events the brokers rejected so far.
func (p *LifecycleProducer) Failed() int64 {
	return p.failed.Load()
}

// Close waits for queued events, then releases the producer.
func (p *LifecycleProducer) Close() error {
	remaining := p.producer.Flush(int(flushTimeout.Milliseconds()))
	p.producer.Close()
	<-p.drained
	if remaining > 0 {
		return fmt.Errorf("%d lifecycle events still queued at shutdown", remaining)
	}
	return nil
}
