package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NizariMohamed/chatting/internal/cache"
	"github.com/NizariMohamed/chatting/internal/domain"
	"github.com/NizariMohamed/chatting/internal/registry"
)

type fakeConn struct {
	id, userID string

	mu     sync.Mutex
	frames []domain.PresenceEvent
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(data []byte) error {
	var ev domain.PresenceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, ev)
	return nil
}

func (c *fakeConn) events() []domain.PresenceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PresenceEvent(nil), c.frames...)
}

func setup(t *testing.T) (*registry.Registry, *Tracker, *cache.MemoryPresenceCache) {
	t.Helper()
	reg := registry.New(4)
	c := cache.NewMemoryPresenceCache()
	tr := NewTracker(reg, c)
	reg.SetListener(tr)
	t.Cleanup(tr.Close)
	return reg, tr, c
}

func TestTracker_SingleEventPerEdge(t *testing.T) {
	reg, tr, _ := setup(t)

	observer := &fakeConn{id: "o1", userID: "observer"}
	reg.Register("observer", observer)

	h1 := reg.Register("u1", &fakeConn{id: "u1-a", userID: "u1"})
	h2 := reg.Register("u1", &fakeConn{id: "u1-b", userID: "u1"})
	assert.Equal(t, domain.StatusOnline, tr.Status("u1"))

	reg.Deregister(h1)
	reg.Deregister(h2)
	assert.Equal(t, domain.StatusOffline, tr.Status("u1"))

	var u1Events []domain.PresenceEvent
	for _, ev := range observer.events() {
		if ev.UserID == "u1" {
			u1Events = append(u1Events, ev)
		}
	}
	require.Len(t, u1Events, 2)
	assert.Equal(t, domain.StatusOnline, u1Events[0].Status)
	assert.Equal(t, domain.StatusOffline, u1Events[1].Status)
	assert.Equal(t, domain.MsgTypePresence, u1Events[0].Type)
}

func TestTracker_OwnDevicesReceivePresence(t *testing.T) {
	reg, _, _ := setup(t)

	first := &fakeConn{id: "a", userID: "u1"}
	reg.Register("u1", first)

	events := first.events()
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, domain.StatusOnline, events[0].Status)
}

func TestTracker_RecordsSnapshot(t *testing.T) {
	reg, tr, c := setup(t)

	h := reg.Register("u1", &fakeConn{id: "a", userID: "u1"})
	reg.Deregister(h)
	tr.Close()

	snaps, err := c.Snapshots(t.Context(), []string{"u1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOffline, snaps["u1"].Status)
	assert.False(t, snaps["u1"].LastSeen.IsZero())
}

// stallingCache blocks every Record until released.
type stallingCache struct {
	*cache.MemoryPresenceCache
	entered chan string
	release chan struct{}
}

func (c *stallingCache) Record(ctx context.Context, userID, status string, at time.Time) error {
	c.entered <- userID
	<-c.release
	return c.MemoryPresenceCache.Record(ctx, userID, status, at)
}

func TestTracker_SlowCacheDoesNotStallRegistry(t *testing.T) {
	reg := registry.New(1)
	c := &stallingCache{
		MemoryPresenceCache: cache.NewMemoryPresenceCache(),
		entered:             make(chan string, 8),
		release:             make(chan struct{}),
	}
	tr := NewTracker(reg, c)
	reg.SetListener(tr)

	observer := &fakeConn{id: "o1", userID: "observer"}
	reg.Register("observer", observer)
	require.Equal(t, "observer", <-c.entered)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h := reg.Register("u2", &fakeConn{id: "u2-a", userID: "u2"})
		reg.Deregister(h)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked behind the snapshot cache")
	}

	var statuses []string
	for _, ev := range observer.events() {
		if ev.UserID == "u2" {
			statuses = append(statuses, ev.Status)
		}
	}
	assert.Equal(t, []string{domain.StatusOnline, domain.StatusOffline}, statuses)

	close(c.release)
	tr.Close()

	snaps, err := c.Snapshots(t.Context(), []string{"observer", "u2"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnline, snaps["observer"].Status)
	assert.Equal(t, domain.StatusOffline, snaps["u2"].Status, "writes apply in edge order")
}
