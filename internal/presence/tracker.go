package presence

import (
	"context"
	"sync"
	"time"

	"github.com/NizariMohamed/chatting/internal/cache"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/registry"
	"github.com/NizariMohamed/chatting/pkg/log"
)

const (
	recordTimeout = 2 * time.Second
	recordBacklog = 1024
)

// Broadcaster sends an encoded frame to every live connection.
type Broadcaster interface {
	Broadcast(data []byte) int
	IsOnline(userID string) bool
}

type snapshot struct {
	userID string
	status string
	at     time.Time
}

// Tracker turns registry edges into presence frames. It is installed as
// the registry listener, so calls for one user arrive serialized. Frames
// go out inline; snapshot writes are queued to a single writer so a slow
// cache never holds up the registry.
type Tracker struct {
	conns Broadcaster
	cache cache.PresenceCache
	now   func() time.Time

	mu      sync.RWMutex
	records chan snapshot
	closed  bool
	done    chan struct{}
}

// NewTracker creates a tracker. c may be nil when no snapshot cache is
// wanted. Close stops the snapshot writer.
func NewTracker(conns Broadcaster, c cache.PresenceCache) *Tracker {
	t := &Tracker{conns: conns, cache: c, now: time.Now, done: make(chan struct{})}
	if c == nil {
		close(t.done)
		return t
	}
	t.records = make(chan snapshot, recordBacklog)
	go t.recordLoop()
	return t
}

// OnConnectionCountChanged implements registry.Listener.
func (t *Tracker) OnConnectionCountChanged(userID string, newCount int) {
	online := newCount > 0
	event := domain.NewPresenceEvent(userID, online)

	l := log.L()
	data, err := registry.Encode(event)
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, userID).Msg("failed to encode presence")
		return
	}

	n := t.conns.Broadcast(data)
	l.Debug().
		Str(log.FieldUserID, userID).
		Str(log.FieldStatus, event.Status).
		Int("recipients", n).
		Msg("presence changed")

	t.enqueue(snapshot{userID: userID, status: event.Status, at: t.now().UTC()})
}

func (t *Tracker) enqueue(s snapshot) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.records == nil || t.closed {
		return
	}
	select {
	case t.records <- s:
	default:
		l := log.L()
		l.Warn().Str(log.FieldUserID, s.userID).Msg("presence snapshot backlog full, dropping")
	}
}

func (t *Tracker) recordLoop() {
	defer close(t.done)
	for s := range t.records {
		t.record(s)
	}
}

func (t *Tracker) record(s snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := t.cache.Record(ctx, s.userID, s.status, s.at); err != nil {
		l := log.L()
		l.Warn().Err(err).Str(log.FieldUserID, s.userID).Msg("failed to record presence snapshot")
	}
}

// Close flushes queued snapshots and stops the writer. Edges reported
// after Close are broadcast but not recorded.
func (t *Tracker) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		if t.records != nil {
			close(t.records)
		}
	}
	t.mu.Unlock()
	<-t.done
}

// Status reports the live status of userID.
func (t *Tracker) Status(userID string) string {
	if t.conns.IsOnline(userID) {
		return domain.StatusOnline
	}
	return domain.StatusOffline
}
