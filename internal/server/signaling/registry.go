package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"sendit/internal/core"
)

// Sentinel errors for room lifecycle operations.
var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrRoomsExhausted = errors.New("room capacity exhausted")
)

// Registry owns every room on the server: creation, lookup, peer membership,
// message relay and expiry. Rooms live in a concurrent map and each carries
// its own mutex, so operations on different rooms proceed independently.
type Registry struct {
	maxRooms             int
	maxPeersPerRoom      int
	roomCodeLength       int
	roomTTL              time.Duration
	maxMessagesPerSecond float64

	clock     clock.Clock
	admission *Admission

	rooms     sync.Map // code -> *Room
	roomCount atomic.Int64

	totalConnections atomic.Int64
	totalMessages    atomic.Int64
	startTime        time.Time
}

// RegistryOptions carries the limits the registry enforces.
type RegistryOptions struct {
	MaxRooms             int
	MaxPeersPerRoom      int
	RoomCodeLength       int
	RoomTTL              time.Duration
	MaxMessagesPerSecond float64
}

// NewRegistry constructs a room registry with the given limits, admission
// controller and clock.
func NewRegistry(opts RegistryOptions, admission *Admission, clk clock.Clock) *Registry {
	return &Registry{
		maxRooms:             opts.MaxRooms,
		maxPeersPerRoom:      opts.MaxPeersPerRoom,
		roomCodeLength:       opts.RoomCodeLength,
		roomTTL:              opts.RoomTTL,
		maxMessagesPerSecond: opts.MaxMessagesPerSecond,
		clock:                clk,
		admission:            admission,
		startTime:            clk.Now(),
	}
}

// Admission exposes the registry's admission controller for pre-upgrade
// checks.
func (reg *Registry) Admission() *Admission {
	return reg.admission
}

// Clock exposes the registry's clock so collaborators share one time source.
func (reg *Registry) Clock() clock.Clock {
	return reg.clock
}

// CreateRoom allocates an empty room under a fresh code and returns the code.
// It fails only when the global room ceiling is hit.
func (reg *Registry) CreateRoom() (string, error) {
	for {
		if reg.roomCount.Load() >= int64(reg.maxRooms) {
			return "", ErrRoomsExhausted
		}
		code, err := core.NewRoomCode(reg.roomCodeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		if _, loaded := reg.rooms.LoadOrStore(code, newRoom(code, reg.clock.Now())); loaded {
			// Collision with a live room; roll again.
			continue
		}
		reg.roomCount.Add(1)
		return code, nil
	}
}

// EnsureRoom returns the room for code, creating it when absent. This is the
// host path: connecting to an unseen code claims it.
func (reg *Registry) EnsureRoom(code string) (*Room, error) {
	code = strings.ToUpper(code)
	if room, ok := reg.GetRoom(code); ok {
		return room, nil
	}
	if reg.roomCount.Load() >= int64(reg.maxRooms) {
		return nil, ErrRoomsExhausted
	}
	actual, loaded := reg.rooms.LoadOrStore(code, newRoom(code, reg.clock.Now()))
	if !loaded {
		reg.roomCount.Add(1)
	}
	return actual.(*Room), nil
}

// GetRoom looks up a room by code, case-insensitively. Expired rooms are
// deleted on sight and reported as absent.
func (reg *Registry) GetRoom(code string) (*Room, bool) {
	code = strings.ToUpper(code)
	val, ok := reg.rooms.Load(code)
	if !ok {
		return nil, false
	}
	room := val.(*Room)
	if room.Expired(reg.clock.Now(), reg.roomTTL) {
		reg.deleteRoom(room)
		return nil, false
	}
	return room, true
}

// deleteRoom removes the room from the registry. CompareAndDelete keeps the
// count honest when the read-path eviction and the reaper race.
func (reg *Registry) deleteRoom(room *Room) {
	if reg.rooms.CompareAndDelete(room.Code, room) {
		reg.roomCount.Add(-1)
	}
}

// AddPeer inserts peer into room, notifies the peers already present, and
// finally acknowledges the newcomer. The whole sequence runs under the room
// lock, so the peer list in the acknowledgment is exactly what the others
// were told about.
func (reg *Registry) AddPeer(room *Room, peer *Peer) error {
	now := reg.clock.Now()

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || room.Expired(now, reg.roomTTL) {
		return ErrRoomNotFound
	}
	if len(room.peers) >= reg.maxPeersPerRoom {
		return ErrRoomFull
	}

	room.peers[peer.ID] = peer
	room.Touch(now)
	reg.admission.Acquire(peer.Addr)
	reg.totalConnections.Add(1)

	count := len(room.peers)
	joined, _ := json.Marshal(peerJoinedEvent{
		Type:      "peer-joined",
		PeerID:    peer.ID,
		IsHost:    peer.IsHost,
		PeerCount: count,
	})

	others := make([]string, 0, count-1)
	for id, p := range room.peers {
		if id == peer.ID {
			continue
		}
		others = append(others, id)
		p.enqueue(joined)
	}

	ack, _ := json.Marshal(roomJoinedEvent{
		Type:      "room-joined",
		RoomCode:  room.Code,
		PeerID:    peer.ID,
		IsHost:    peer.IsHost,
		PeerCount: count,
		Peers:     others,
	})
	peer.enqueue(ack)

	slog.Info("peer joined", "room", room.Code, "peer", peer.ID, "host", peer.IsHost, "peers", count)
	return nil
}

// RemovePeer takes the peer out of the room, tells the remaining peers, and
// deletes the room once it is empty. Calling it again for the same peer is a
// no-op: peer-left is broadcast once and the admission counter drops once.
func (reg *Registry) RemovePeer(room *Room, peerID string) {
	room.mu.Lock()
	peer, ok := room.peers[peerID]
	if !ok {
		room.mu.Unlock()
		return
	}
	delete(room.peers, peerID)
	reg.admission.Release(peer.Addr)
	room.Touch(reg.clock.Now())

	count := len(room.peers)
	left, _ := json.Marshal(peerLeftEvent{
		Type:      "peer-left",
		PeerID:    peerID,
		PeerCount: count,
	})
	for _, p := range room.peers {
		p.enqueue(left)
	}
	peer.closeSend()
	if count == 0 {
		// Close while still holding the lock so no join can slip in
		// between the last leave and the registry deletion below.
		room.closed = true
	}
	room.mu.Unlock()

	slog.Info("peer left", "room", room.Code, "peer", peerID, "peers", count)

	if count == 0 {
		reg.deleteRoom(room)
		slog.Info("room deleted", "room", room.Code)
	}
}

// Relay stamps the sender onto msg and delivers it. A non-empty targetId
// restricts delivery to that peer (silently skipped when the target already
// left); otherwise every peer except the sender receives it. Delivery is a
// non-blocking enqueue per recipient: a saturated peer loses the message
// rather than holding up the room.
func (reg *Registry) Relay(room *Room, senderID string, msg map[string]any) {
	msg["senderId"] = senderID
	room.Touch(reg.clock.Now())
	room.messageCount.Add(1)
	reg.totalMessages.Add(1)

	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("dropping unserializable message", "room", room.Code, "sender", senderID, "error", err)
		return
	}
	targetID, _ := msg["targetId"].(string)

	room.mu.RLock()
	defer room.mu.RUnlock()
	for id, p := range room.peers {
		if id == senderID {
			continue
		}
		if targetID != "" && id != targetID {
			continue
		}
		if !p.enqueue(data) {
			slog.Warn("peer send queue full, message dropped", "room", room.Code, "peer", id)
		}
	}
}

// SweepExpired force-closes every peer of each expired room and deletes the
// room. It returns the number of rooms reaped. Per-room work happens one
// room at a time; the hot path of live rooms is untouched.
func (reg *Registry) SweepExpired() int {
	now := reg.clock.Now()
	reaped := 0
	reg.rooms.Range(func(_, value any) bool {
		room := value.(*Room)
		if !room.Expired(now, reg.roomTTL) {
			return true
		}
		for _, p := range room.close() {
			// Closing the connection makes the peer's read pump run the
			// normal removal path, including the admission decrement.
			p.CloseConn()
		}
		reg.deleteRoom(room)
		reaped++
		return true
	})
	return reaped
}

// Stats is a point-in-time snapshot of registry counters.
type Stats struct {
	ActiveRooms      int64   `json:"activeRooms"`
	TotalConnections int64   `json:"totalConnections"`
	TotalMessages    int64   `json:"totalMessages"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
}

// Snapshot returns current registry statistics.
func (reg *Registry) Snapshot() Stats {
	return Stats{
		ActiveRooms:      reg.roomCount.Load(),
		TotalConnections: reg.totalConnections.Load(),
		TotalMessages:    reg.totalMessages.Load(),
		UptimeSeconds:    reg.clock.Since(reg.startTime).Seconds(),
	}
}
