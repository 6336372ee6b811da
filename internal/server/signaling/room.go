package signaling

import (
	"sync"
	"sync/atomic"
	"time"
)

// Room scopes exactly the peers that share one code. All peer-set mutation
// goes through the Registry, which serializes it on the room's own mutex so
// unrelated rooms never contend.
type Room struct {
	Code      string
	CreatedAt time.Time

	mu     sync.RWMutex
	peers  map[string]*Peer
	closed bool

	lastActivity atomic.Int64 // unix nanos
	messageCount atomic.Int64
}

func newRoom(code string, now time.Time) *Room {
	r := &Room{
		Code:      code,
		CreatedAt: now,
		peers:     make(map[string]*Peer),
	}
	r.lastActivity.Store(now.UnixNano())
	return r
}

// Touch records activity, pushing the room's expiry window forward.
func (r *Room) Touch(now time.Time) {
	r.lastActivity.Store(now.UnixNano())
}

// Expired reports whether the room has seen no activity for longer than ttl.
func (r *Room) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.Unix(0, r.lastActivity.Load())) > ttl
}

// PeerCount returns the current number of peers in the room.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// MessageCount returns the number of messages relayed through the room.
func (r *Room) MessageCount() int64 {
	return r.messageCount.Load()
}

// close marks the room unjoinable and returns the peers still attached.
// Setting the flag under the lock means a join racing the room's removal
// from the registry is rejected instead of landing in an unreachable room.
func (r *Room) close() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	return peers
}
