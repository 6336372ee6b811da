package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"sendit/internal/core"
	"sendit/internal/server/config"
	"sendit/internal/server/service"
	"sendit/internal/server/signaling"
)

const (
	serverName    = "sendit"
	serverVersion = "2.0.0"
)

// Handler contains the HTTP and websocket handlers for the relay server.
type Handler struct {
	registry *signaling.Registry
	relay    *service.RelayService
	buffers  *core.BufferPool
	cfg      *config.Config
}

// NewHandler creates a new handler with its service dependencies.
func NewHandler(registry *signaling.Registry, relay *service.RelayService, buffers *core.BufferPool, cfg *config.Config) *Handler {
	return &Handler{
		registry: registry,
		relay:    relay,
		buffers:  buffers,
		cfg:      cfg,
	}
}

// HandleHealth handles GET /. Liveness probe.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"server":  serverName,
		"version": serverVersion,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	rooms := h.registry.Snapshot()
	relay := h.relay.Snapshot()
	return c.JSON(http.StatusOK, map[string]any{
		"activeRooms":      rooms.ActiveRooms,
		"totalConnections": rooms.TotalConnections,
		"totalMessages":    rooms.TotalMessages,
		"uptimeSeconds":    rooms.UptimeSeconds,
		"activeFiles":      relay.ActiveFiles,
		"totalBytesRelay":  relay.TotalBytesRelay,
	})
}

// HandleCreateRoom handles POST /api/rooms.
func (h *Handler) HandleCreateRoom(c echo.Context) error {
	code, err := h.registry.CreateRoom()
	if err != nil {
		if errors.Is(err, signaling.ErrRoomsExhausted) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"error": "server is at room capacity",
			})
		}
		slog.Error("failed to create room", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create room",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"roomCode": code,
		"created":  true,
	})
}

// HandleRoomInfo handles GET /api/rooms/:code.
func (h *Handler) HandleRoomInfo(c echo.Context) error {
	room, ok := h.registry.GetRoom(c.Param("code"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "room not found",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"code":      room.Code,
		"peerCount": room.PeerCount(),
		"createdAt": room.CreatedAt.Unix(),
	})
}

// HandleUpload handles POST /api/relay/upload.
// The multipart body is consumed as a stream: the file part is piped straight
// into the blob store without ever being spooled whole, and every read must
// complete within the stall window or the upload fails with a timeout.
func (h *Handler) HandleUpload(c echo.Context) error {
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "multipart body required",
		})
	}

	part, err := nextFilePart(mr)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "file is required (use form field 'file')",
		})
	}
	defer part.Close()

	roomCode := c.QueryParam("room_code")
	checksum := c.QueryParam("checksum")
	compress := c.QueryParam("compress") != "false"

	body := &stallGuardReader{
		r:      part,
		rc:     http.NewResponseController(c.Response()),
		window: h.cfg.UploadStallTimeout,
	}

	result, err := h.relay.ProcessUpload(
		c.Request().Context(),
		part.FileName(),
		part.Header.Get("Content-Type"),
		body,
		roomCode,
		checksum,
		compress,
	)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileTooLarge):
			return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
				"error": "file exceeds maximum allowed size",
			})
		case errors.Is(err, service.ErrTimeout):
			return c.JSON(http.StatusRequestTimeout, map[string]string{
				"error": "upload stalled and was aborted",
			})
		}
		slog.Error("upload failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to store file",
		})
	}

	return c.JSON(http.StatusOK, result)
}

// HandleDownload handles GET /api/relay/download/:id.
// Streams the stored bytes, decompressing unless the caller opts out with
// decompress=false. Response headers carry the original size and whether the
// payload as sent is compressed, so clients can track progress when bytes on
// the wire differ from the file's real size.
func (h *Handler) HandleDownload(c echo.Context) error {
	fileID := c.Param("id")
	decompress := c.QueryParam("decompress") != "false"

	rc, meta, err := h.relay.Download(c.Request().Context(), fileID, decompress)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{
				"error": "file not found",
			})
		}
		slog.Error("download failed", "file_id", fileID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to read file",
		})
	}
	defer rc.Close()

	compressedPayload := meta.Compressed && !decompress

	contentType := meta.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, contentType)
	res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename=%q`, meta.Name))
	res.Header().Set("X-Original-Size", strconv.FormatInt(meta.OriginalSize, 10))
	res.Header().Set("X-Compressed", strconv.FormatBool(compressedPayload))
	if meta.Checksum != "" {
		res.Header().Set("X-Checksum", meta.Checksum)
	}
	if compressedPayload {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(meta.StoredSize, 10))
	} else {
		res.Header().Set(echo.HeaderContentLength, strconv.FormatInt(meta.OriginalSize, 10))
	}
	res.WriteHeader(http.StatusOK)

	buf := h.buffers.Get()
	defer h.buffers.Put(buf)
	if _, err := io.CopyBuffer(res, rc, buf); err != nil {
		// Headers are gone; the client detects truncation via the size
		// mismatch against X-Original-Size.
		slog.Warn("download stream interrupted", "file_id", fileID, "error", err)
	}
	return nil
}

// nextFilePart scans the multipart stream for the "file" field.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// stallGuardReader pushes the connection's read deadline forward before each
// read, so a client that stops sending mid-upload fails the transfer instead
// of parking a handler goroutine forever.
type stallGuardReader struct {
	r           io.Reader
	rc          *http.ResponseController
	window      time.Duration
	unsupported bool
}

func (s *stallGuardReader) Read(p []byte) (int, error) {
	if !s.unsupported {
		if err := s.rc.SetReadDeadline(time.Now().Add(s.window)); err != nil {
			// Transport without deadline support; fall back to unguarded reads.
			s.unsupported = true
		}
	}
	return s.r.Read(p)
}
