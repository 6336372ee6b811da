package signaling

import (
	"hash/fnv"
	"sync"
)

const admissionShards = 32

// Admission tracks live connection counts per source address and enforces
// the per-address ceiling. The map is sharded so unrelated addresses never
// share a lock.
type Admission struct {
	max    int
	shards [admissionShards]admissionShard
}

type admissionShard struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewAdmission creates an admission controller allowing at most max
// concurrent connections per source address.
func NewAdmission(max int) *Admission {
	a := &Admission{max: max}
	for i := range a.shards {
		a.shards[i].counts = make(map[string]int)
	}
	return a
}

func (a *Admission) shard(addr string) *admissionShard {
	h := fnv.New32a()
	h.Write([]byte(addr))
	return &a.shards[h.Sum32()%admissionShards]
}

// Check reports whether one more connection from addr would stay within the
// limit. It is consulted before a connection is upgraded.
func (a *Admission) Check(addr string) bool {
	s := a.shard(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[addr] < a.max
}

// Acquire records a successful room join from addr.
func (a *Admission) Acquire(addr string) {
	s := a.shard(addr)
	s.mu.Lock()
	s.counts[addr]++
	s.mu.Unlock()
}

// Release records a peer removal. Entries that drop to zero are deleted so
// the map tracks only addresses with live connections.
func (a *Admission) Release(addr string) {
	s := a.shard(addr)
	s.mu.Lock()
	if n, ok := s.counts[addr]; ok {
		if n <= 1 {
			delete(s.counts, addr)
		} else {
			s.counts[addr] = n - 1
		}
	}
	s.mu.Unlock()
}

// Count returns the live connection count for addr.
func (a *Admission) Count(addr string) int {
	s := a.shard(addr)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[addr]
}
