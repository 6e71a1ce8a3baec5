package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleEvent_ConversationKeyIsDirectionless(t *testing.T) {
	ab := &LifecycleEvent{SenderID: "alice", ReceiverID: "bob"}
	ba := &LifecycleEvent{SenderID: "bob", ReceiverID: "alice"}
	assert.Equal(t, ab.ConversationKey(), ba.ConversationKey())
	assert.Equal(t, "alice:bob", ab.ConversationKey())
}
