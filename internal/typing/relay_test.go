package typing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NizariMohamed/chatting/internal/domain"
)

type fakePusher struct {
	online map[string]int
	pushed map[string][]any
}

func (p *fakePusher) PushTo(userID string, event any) int {
	if p.pushed == nil {
		p.pushed = map[string][]any{}
	}
	n := p.online[userID]
	if n > 0 {
		p.pushed[userID] = append(p.pushed[userID], event)
	}
	return n
}

func TestRelay_SignalTyping(t *testing.T) {
	p := &fakePusher{online: map[string]int{"bob": 2}}
	r := NewRelay(p)

	n, err := r.SignalTyping("alice", "bob", true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, p.pushed["bob"], 1)
	assert.Equal(t, &domain.TypingEvent{Type: domain.MsgTypeTyping, From: "alice", IsTyping: true}, p.pushed["bob"][0])

	n, err = r.SignalTyping("alice", "carol", false)
	require.NoError(t, err)
	assert.Zero(t, n, "offline recipients drop the signal")

	_, err = r.SignalTyping("alice", "", true)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = r.SignalTyping("alice", "alice", true)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
