package registry

import (
	"hash/fnv"
	"sync"
)

const defaultBuckets = 32

// Conn is one live channel owned by exactly one user.
type Conn interface {
	ID() string
	UserID() string
	// Send enqueues an already encoded frame without blocking.
	Send(data []byte) error
}

// Listener observes presence edges. newCount is 1 when a user's first
// connection appears and 0 when the last one goes away; intermediate
// counts are never reported.
type Listener interface {
	OnConnectionCountChanged(userID string, newCount int)
}

// Handle identifies one registration so it can be removed exactly once.
type Handle struct {
	UserID string
	ConnID string
}

type bucket struct {
	// seq serializes mutation plus notification for the users in this
	// bucket so listeners observe transitions in mutation order.
	seq   sync.Mutex
	mu    sync.RWMutex
	users map[string]map[string]Conn
}

// Registry tracks live connections per user. The zero value is not usable;
// create one with New and share the instance.
type Registry struct {
	buckets  []*bucket
	listener Listener
}

// New creates a registry with n lock buckets (n <= 0 uses a default).
func New(n int) *Registry {
	if n <= 0 {
		n = defaultBuckets
	}
	r := &Registry{buckets: make([]*bucket, n)}
	for i := range r.buckets {
		r.buckets[i] = &bucket{users: make(map[string]map[string]Conn)}
	}
	return r
}

// SetListener installs the presence listener. Call before the first Register.
func (r *Registry) SetListener(l Listener) {
	r.listener = l
}

func (r *Registry) bucketFor(userID string) *bucket {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return r.buckets[h.Sum32()%uint32(len(r.buckets))]
}

// Register adds conn under userID and returns the handle that removes it.
func (r *Registry) Register(userID string, conn Conn) Handle {
	b := r.bucketFor(userID)

	b.seq.Lock()
	defer b.seq.Unlock()

	b.mu.Lock()
	conns, ok := b.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		b.users[userID] = conns
	}
	conns[conn.ID()] = conn
	count := len(conns)
	b.mu.Unlock()

	if count == 1 && r.listener != nil {
		r.listener.OnConnectionCountChanged(userID, 1)
	}
	return Handle{UserID: userID, ConnID: conn.ID()}
}

// Deregister removes the connection behind h. Removing an unknown or
// already removed handle is a no-op and never produces a presence edge.
func (r *Registry) Deregister(h Handle) {
	b := r.bucketFor(h.UserID)

	b.seq.Lock()
	defer b.seq.Unlock()

	b.mu.Lock()
	conns, ok := b.users[h.UserID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, ok := conns[h.ConnID]; !ok {
		b.mu.Unlock()
		return
	}
	delete(conns, h.ConnID)
	last := len(conns) == 0
	if last {
		delete(b.users, h.UserID)
	}
	b.mu.Unlock()

	if last && r.listener != nil {
		r.listener.OnConnectionCountChanged(h.UserID, 0)
	}
}

// ConnectionsFor returns a snapshot of userID's live connections.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	b := r.bucketFor(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()

	conns := b.users[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections held by userID.
func (r *Registry) Count(userID string) int {
	b := r.bucketFor(userID)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users[userID])
}

// IsOnline reports whether userID holds at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	return r.Count(userID) > 0
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []Conn {
	var out []Conn
	for _, b := range r.buckets {
		b.mu.RLock()
		for _, conns := range b.users {
			for _, c := range conns {
				out = append(out, c)
			}
		}
		b.mu.RUnlock()
	}
	return out
}

// OnlineUsers returns the ids of users with at least one live connection.
func (r *Registry) OnlineUsers() []string {
	var out []string
	for _, b := range r.buckets {
		b.mu.RLock()
		for userID := range b.users {
			out = append(out, userID)
		}
		b.mu.RUnlock()
	}
	return out
}
