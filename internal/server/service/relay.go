package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"sendit/internal/server/config"
	"sendit/internal/server/storage"
)

// Sentinel errors for the relay service layer.
var (
	ErrNotFound     = errors.New("file not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrTimeout      = errors.New("upload stream timed out")
)

// FileMeta describes one relayed file held until its TTL runs out.
type FileMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mimeType"`
	StoredSize   int64     `json:"size"`
	OriginalSize int64     `json:"originalSize"`
	Compressed   bool      `json:"compressed"`
	Checksum     string    `json:"checksum,omitempty"` // client-supplied, stored verbatim; the server never verifies it
	RoomCode     string    `json:"roomCode,omitempty"` // bookkeeping only, never access control
	UploadedAt   time.Time `json:"uploadedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// UploadResult is returned after a successful upload; it carries everything
// the sender needs to hand the receiver a download reference.
type UploadResult struct {
	FileID         string `json:"fileId"`
	Name           string `json:"name"`
	Size           int64  `json:"size"`
	Compressed     bool   `json:"compressed"`
	CompressedSize int64  `json:"compressedSize"`
	DownloadURL    string `json:"downloadUrl"`
	ExpiresAt      int64  `json:"expiresAt"`
}

// RelayService is the fallback path when peers cannot connect directly: it
// parks file bytes on the server for a bounded lifetime. Metadata lives in a
// concurrent in-memory index; the bytes live in the blob store. Nothing
// survives a restart, by design.
type RelayService struct {
	store storage.Store
	cfg   *config.Config
	clock clock.Clock

	files     sync.Map // fileID -> *FileMeta
	fileCount atomic.Int64
	bytesIn   atomic.Int64
	bytesOut  atomic.Int64
}

// NewRelayService creates a relay service backed by the given blob store.
func NewRelayService(store storage.Store, cfg *config.Config, clk clock.Clock) *RelayService {
	return &RelayService{
		store: store,
		cfg:   cfg,
		clock: clk,
	}
}

// ProcessUpload streams an incoming file into the store (compressing it
// unless the caller opted out) and indexes its metadata with a TTL. On any
// failure the partial blob is already gone.
func (s *RelayService) ProcessUpload(ctx context.Context, name, mimeType string, data io.Reader, roomCode, checksum string, compress bool) (*UploadResult, error) {
	fileID := uuid.NewString()

	stored, original, err := s.store.Save(fileID, data, compress, s.cfg.MaxFileSize)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTooLarge):
			return nil, ErrFileTooLarge
		case errors.Is(err, os.ErrDeadlineExceeded):
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to store relayed file: %w", err)
	}

	now := s.clock.Now()
	meta := &FileMeta{
		ID:           fileID,
		Name:         sanitizeFilename(name),
		MimeType:     mimeType,
		StoredSize:   stored,
		OriginalSize: original,
		Compressed:   compress,
		Checksum:     checksum,
		RoomCode:     strings.ToUpper(roomCode),
		UploadedAt:   now,
		ExpiresAt:    now.Add(s.cfg.RelayFileTTL),
	}

	s.files.Store(fileID, meta)
	s.fileCount.Add(1)
	s.bytesIn.Add(original)

	slog.Info("relay upload stored",
		"file_id", fileID,
		"name", meta.Name,
		"original_size", original,
		"stored_size", stored,
		"compressed", compress,
		"room", meta.RoomCode,
	)

	return &UploadResult{
		FileID:         fileID,
		Name:           meta.Name,
		Size:           original,
		Compressed:     compress,
		CompressedSize: stored,
		DownloadURL:    fmt.Sprintf("%s/api/relay/download/%s", s.cfg.BaseURL, fileID),
		ExpiresAt:      meta.ExpiresAt.Unix(),
	}, nil
}

// Download returns a reader over the relayed bytes plus the file's metadata.
// Compressed blobs are decompressed on the fly unless the caller opts out.
// Expired files are evicted eagerly and reported as absent.
func (s *RelayService) Download(ctx context.Context, fileID string, decompress bool) (io.ReadCloser, *FileMeta, error) {
	val, ok := s.files.Load(fileID)
	if !ok {
		return nil, nil, ErrNotFound
	}
	meta := val.(*FileMeta)

	if s.clock.Now().After(meta.ExpiresAt) {
		s.evict(meta)
		return nil, nil, ErrNotFound
	}

	rc, err := s.store.Open(fileID, meta.Compressed, decompress)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Index said yes but the blob is gone; drop the stale entry.
			s.evict(meta)
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open relayed file: %w", err)
	}

	return &countingReadCloser{rc: rc, n: &s.bytesOut}, meta, nil
}

// SweepExpired removes every file past its expiry along with its backing
// blob. A failure on one entry never stops the rest of the sweep. Returns
// the number of files removed.
func (s *RelayService) SweepExpired(ctx context.Context) int {
	now := s.clock.Now()
	removed := 0
	s.files.Range(func(key, value any) bool {
		if ctx.Err() != nil {
			return false
		}
		meta := value.(*FileMeta)
		if now.After(meta.ExpiresAt) {
			if !s.evict(meta) {
				slog.Error("failed to evict expired file", "file_id", meta.ID)
			} else {
				removed++
			}
		}
		return true
	})
	return removed
}

// evict drops the index entry and the backing blob. Reports success when the
// entry was present and the blob deletion did not fail.
func (s *RelayService) evict(meta *FileMeta) bool {
	if _, loaded := s.files.LoadAndDelete(meta.ID); loaded {
		s.fileCount.Add(-1)
	}
	if err := s.store.Delete(meta.ID); err != nil {
		slog.Error("failed to delete blob", "file_id", meta.ID, "error", err)
		return false
	}
	return true
}

// Stats is a point-in-time snapshot of relay counters.
type Stats struct {
	ActiveFiles     int64 `json:"activeFiles"`
	TotalBytesIn    int64 `json:"totalBytesIn"`
	TotalBytesOut   int64 `json:"totalBytesOut"`
	TotalBytesRelay int64 `json:"totalBytesRelay"`
}

// Snapshot returns current relay statistics.
func (s *RelayService) Snapshot() Stats {
	in := s.bytesIn.Load()
	out := s.bytesOut.Load()
	return Stats{
		ActiveFiles:     s.fileCount.Load(),
		TotalBytesIn:    in,
		TotalBytesOut:   out,
		TotalBytesRelay: in + out,
	}
}

// countingReadCloser tallies bytes actually sent to a downloader.
type countingReadCloser struct {
	rc io.ReadCloser
	n  *atomic.Int64
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReadCloser) Close() error {
	return c.rc.Close()
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "file.bin"
	}

	return name
}
