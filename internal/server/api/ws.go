package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"sendit/internal/server/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	// Clients connect from arbitrary origins (native apps, localhost pages).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket handles GET /ws/:code. One persistent signaling connection
// per peer: admission check, upgrade, room attach, then the read loop relays
// every inbound message until the connection dies.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	code := strings.ToUpper(c.Param("code"))
	peerID := c.QueryParam("peer_id")
	isHost := c.QueryParam("is_host") == "true"
	addr := c.RealIP()

	// Refuse before paying for the upgrade.
	if !h.registry.Admission().Check(addr) {
		return c.String(http.StatusTooManyRequests, "too many connections from this address")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	room, ok := h.registry.GetRoom(code)
	if !ok {
		if !isHost {
			writeErrorEnvelope(conn, "Room not found")
			return nil
		}
		// A host connecting to an unseen code claims it.
		room, err = h.registry.EnsureRoom(code)
		if err != nil {
			writeErrorEnvelope(conn, "Server is at capacity")
			return nil
		}
	}

	if peerID == "" {
		peerID = uuid.NewString()
	}

	peer := signaling.NewPeer(peerID, isHost, addr, conn, h.registry.Clock().Now())
	if err := h.registry.AddPeer(room, peer); err != nil {
		switch {
		case errors.Is(err, signaling.ErrRoomFull):
			writeErrorEnvelope(conn, "Room is full")
		case errors.Is(err, signaling.ErrRoomNotFound):
			writeErrorEnvelope(conn, "Room not found")
		default:
			writeErrorEnvelope(conn, "Failed to join room")
		}
		return nil
	}

	go peer.WritePump()
	peer.ReadPump(h.registry, room) // blocks; removal runs on its way out
	return nil
}

func writeErrorEnvelope(conn *websocket.Conn, msg string) {
	conn.WriteJSON(map[string]string{
		"type":    "error",
		"message": msg,
	})
}
