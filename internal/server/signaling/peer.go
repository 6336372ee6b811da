package signaling

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// A connection with no inbound traffic (including pong replies) for this
	// long is considered dead.
	pongWait = 60 * time.Second

	// Ping interval. Must be shorter than pongWait so at least two probes
	// fit in every timeout window.
	pingPeriod = 25 * time.Second

	// Maximum inbound message size: enough for any WebRTC SDP or candidate.
	maxMessageSize = 64 * 1024

	// Outbound queue depth per peer. A peer that falls this far behind
	// starts losing messages rather than stalling its siblings.
	sendQueueSize = 256
)

// Peer wraps one websocket connection inside a room.
type Peer struct {
	ID     string
	IsHost bool

	// Addr is the normalized source address used for admission accounting.
	Addr string

	ConnectedAt time.Time

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	lastMessage  atomic.Int64 // unix nanos
	messageCount atomic.Int64

	// Token bucket for inbound message rate limiting.
	rateMu    sync.Mutex
	tokens    float64
	lastCheck time.Time
}

// NewPeer creates a peer for the given connection. conn may be nil in tests;
// only the pumps dereference it.
func NewPeer(id string, isHost bool, addr string, conn *websocket.Conn, now time.Time) *Peer {
	p := &Peer{
		ID:          id,
		IsHost:      isHost,
		Addr:        addr,
		ConnectedAt: now,
		conn:        conn,
		send:        make(chan []byte, sendQueueSize),
	}
	p.lastMessage.Store(now.UnixNano())
	return p
}

// MessageCount returns how many messages the peer has sent.
func (p *Peer) MessageCount() int64 {
	return p.messageCount.Load()
}

// enqueue attempts a non-blocking send to the peer's outbound queue.
// A full queue means the peer is too slow; the message is dropped so one
// stalled consumer never blocks the rest of the room.
func (p *Peer) enqueue(msg []byte) bool {
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend shuts the outbound queue exactly once, which in turn stops the
// write pump. Callers must hold the room's write lock so no enqueue races
// the close.
func (p *Peer) closeSend() {
	p.closeOnce.Do(func() {
		close(p.send)
	})
}

// CloseConn tears down the underlying connection. The peer's read pump then
// exits with an error and runs the normal removal path, so forced closes by
// the reaper reuse the same bookkeeping as voluntary disconnects.
func (p *Peer) CloseConn() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *Peer) touch(now time.Time) {
	p.lastMessage.Store(now.UnixNano())
	p.messageCount.Add(1)
}

// allowMessage refills the peer's token bucket for elapsed time and spends
// one token, refusing when the bucket is empty.
func (p *Peer) allowMessage(now time.Time, rate float64) bool {
	p.rateMu.Lock()
	defer p.rateMu.Unlock()

	if p.lastCheck.IsZero() {
		p.tokens = rate - 1
		p.lastCheck = now
		return true
	}

	elapsed := now.Sub(p.lastCheck).Seconds()
	p.tokens += elapsed * rate
	if p.tokens > rate {
		p.tokens = rate
	}
	p.lastCheck = now

	if p.tokens < 1 {
		return false
	}
	p.tokens--
	return true
}

// ReadPump consumes inbound messages and hands them to the registry for
// relaying. It owns all reads on the connection and guarantees RemovePeer
// runs exactly once on the way out, whatever killed the connection.
func (p *Peer) ReadPump(reg *Registry, room *Room) {
	defer func() {
		reg.RemovePeer(room, p.ID)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read failed", "peer", p.ID, "room", room.Code, "error", err)
			}
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))

		now := reg.clock.Now()
		if !p.allowMessage(now, reg.maxMessagesPerSecond) {
			slog.Warn("peer throttled", "peer", p.ID, "room", room.Code)
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("dropping malformed message", "peer", p.ID, "room", room.Code, "error", err)
			continue
		}

		p.touch(now)
		reg.Relay(room, p.ID, msg)
	}
}

// WritePump drains the peer's outbound queue onto the connection and emits
// liveness pings. There is at most one writer per connection: this goroutine.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
