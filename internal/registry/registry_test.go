package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	userID string
	fail   bool

	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(data []byte) error {
	if c.fail {
		return errors.New("buffer full")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type edge struct {
	userID string
	count  int
}

type recordingListener struct {
	mu    sync.Mutex
	edges []edge
}

func (l *recordingListener) OnConnectionCountChanged(userID string, newCount int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.edges = append(l.edges, edge{userID, newCount})
}

func (l *recordingListener) snapshot() []edge {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]edge(nil), l.edges...)
}

func TestRegistry_PresenceEdges(t *testing.T) {
	r := New(4)
	l := &recordingListener{}
	r.SetListener(l)

	h1 := r.Register("alice", &fakeConn{id: "c1", userID: "alice"})
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, []edge{{"alice", 1}}, l.snapshot())

	h2 := r.Register("alice", &fakeConn{id: "c2", userID: "alice"})
	assert.Len(t, l.snapshot(), 1, "second connection must not fire an edge")
	assert.Equal(t, 2, r.Count("alice"))

	r.Deregister(h1)
	assert.True(t, r.IsOnline("alice"))
	assert.Len(t, l.snapshot(), 1)

	r.Deregister(h2)
	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, []edge{{"alice", 1}, {"alice", 0}}, l.snapshot())

	r.Deregister(h2)
	assert.Len(t, l.snapshot(), 2, "double deregister is a no-op")
}

func TestRegistry_ConnectionsAndSnapshots(t *testing.T) {
	r := New(0)
	r.Register("alice", &fakeConn{id: "a1", userID: "alice"})
	r.Register("alice", &fakeConn{id: "a2", userID: "alice"})
	r.Register("bob", &fakeConn{id: "b1", userID: "bob"})

	assert.Len(t, r.ConnectionsFor("alice"), 2)
	assert.Empty(t, r.ConnectionsFor("carol"))
	assert.Len(t, r.All(), 3)
	assert.ElementsMatch(t, []string{"alice", "bob"}, r.OnlineUsers())
}

func TestRegistry_SendToSkipsFailedConnections(t *testing.T) {
	r := New(2)
	good := &fakeConn{id: "a1", userID: "alice"}
	bad := &fakeConn{id: "a2", userID: "alice", fail: true}
	r.Register("alice", good)
	r.Register("alice", bad)

	n := r.PushTo("alice", map[string]string{"type": "pong"})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, good.count())
	assert.Equal(t, 0, r.SendTo("nobody", []byte("{}")))
}

func TestRegistry_ConcurrentChurnKeepsEdgesBalanced(t *testing.T) {
	r := New(8)
	l := &recordingListener{}
	r.SetListener(l)

	const users, conns = 10, 20
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < conns; c++ {
			wg.Add(1)
			go func(u, c int) {
				defer wg.Done()
				userID := fmt.Sprintf("user-%d", u)
				h := r.Register(userID, &fakeConn{id: fmt.Sprintf("%d-%d", u, c), userID: userID})
				r.Deregister(h)
			}(u, c)
		}
	}
	wg.Wait()

	require.Empty(t, r.All())

	// Per user the edges must strictly alternate online/offline and end offline.
	perUser := map[string][]int{}
	for _, e := range l.snapshot() {
		perUser[e.userID] = append(perUser[e.userID], e.count)
	}
	for userID, seq := range perUser {
		require.NotEmpty(t, seq, userID)
		for i, n := range seq {
			if i%2 == 0 {
				assert.Equal(t, 1, n, "%s edge %d", userID, i)
			} else {
				assert.Equal(t, 0, n, "%s edge %d", userID, i)
			}
		}
		assert.Equal(t, 0, seq[len(seq)-1], userID)
	}
}
