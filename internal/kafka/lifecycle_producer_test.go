package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NizariMohamed/chatting/internal/domain"
)

func TestBuildMessage(t *testing.T) {
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	event := &domain.LifecycleEvent{
		Type:       domain.EventMessageDelivered,
		MessageID:  42,
		SenderID:   "u-b",
		ReceiverID: "u-a",
		OccurredAt: at,
	}

	msg, err := buildMessage("dm-message-events", event)
	require.NoError(t, err)

	require.NotNil(t, msg.TopicPartition.Topic)
	assert.Equal(t, "dm-message-events", *msg.TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, msg.TopicPartition.Partition)
	assert.Equal(t, "u-a:u-b", string(msg.Key))
	assert.True(t, at.Equal(msg.Timestamp))
	assert.Equal(t, domain.EventMessageDelivered, headerValue(msg.Headers, headerEventType))
	assert.Equal(t, "42", headerValue(msg.Headers, headerMessageID))

	var decoded domain.LifecycleEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, uint64(42), decoded.MessageID)
}

func TestBuildMessage_ReadEventHasNoMessageID(t *testing.T) {
	msg, err := buildMessage("t", &domain.LifecycleEvent{
		Type:       domain.EventMessageRead,
		SenderID:   "a",
		ReceiverID: "b",
		Count:      3,
	})
	require.NoError(t, err)
	assert.Len(t, msg.Headers, 1)
	assert.Empty(t, headerValue(msg.Headers, headerMessageID))
}

func TestNoopProducer(t *testing.T) {
	var p EventProducer = NoopProducer{}
	assert.NoError(t, p.Publish(context.Background(), &domain.LifecycleEvent{}))
	assert.NoError(t, p.Close())
}
