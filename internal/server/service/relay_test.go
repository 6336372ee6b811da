package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"sendit/internal/core"
	"sendit/internal/server/config"
	"sendit/internal/server/storage"
)

const testChunkSize = 1024

func newTestRelay(t *testing.T) (*RelayService, *clock.Mock, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		BaseURL:      "http://localhost:8766",
		MaxFileSize:  10 * 1024 * 1024,
		ChunkSize:    testChunkSize,
		RelayFileTTL: time.Hour,
	}
	store := storage.NewFileSystemStore(dir, core.NewBufferPool(testChunkSize))
	if err := store.EnsureDir(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk := clock.NewMock()
	return NewRelayService(store, cfg, clk), clk, dir
}

func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + (i/11)%20)
	}
	return data
}

func TestProcessUpload(t *testing.T) {
	t.Run("round trip with compression", func(t *testing.T) {
		svc, _, _ := newTestRelay(t)

		for _, size := range []int{0, 1, testChunkSize, 3*testChunkSize + 7} {
			data := patterned(size)
			result, err := svc.ProcessUpload(context.Background(), "report.pdf", "application/pdf", bytes.NewReader(data), "ABC234", "", true)
			if err != nil {
				t.Fatalf("upload failed at %d bytes: %v", size, err)
			}
			if result.Size != int64(size) {
				t.Errorf("expected size %d, got %d", size, result.Size)
			}
			if !result.Compressed {
				t.Error("expected compressed flag")
			}
			if !strings.HasSuffix(result.DownloadURL, "/api/relay/download/"+result.FileID) {
				t.Errorf("unexpected download URL %q", result.DownloadURL)
			}

			rc, meta, err := svc.Download(context.Background(), result.FileID, true)
			if err != nil {
				t.Fatalf("download failed at %d bytes: %v", size, err)
			}
			got, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("read failed at %d bytes: %v", size, err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("round trip mismatch at %d bytes: got %d back", size, len(got))
			}
			if meta.OriginalSize != int64(size) {
				t.Errorf("expected original size %d, got %d", size, meta.OriginalSize)
			}
		}
	})

	t.Run("client checksum is stored verbatim", func(t *testing.T) {
		svc, _, _ := newTestRelay(t)

		result, err := svc.ProcessUpload(context.Background(), "a.txt", "", bytes.NewReader(patterned(100)), "", "sha256:deadbeef", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc, meta, err := svc.Download(context.Background(), result.FileID, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc.Close()
		if meta.Checksum != "sha256:deadbeef" {
			t.Errorf("expected checksum preserved, got %q", meta.Checksum)
		}

		// No checksum supplied means none invented.
		result, err = svc.ProcessUpload(context.Background(), "b.txt", "", bytes.NewReader(patterned(100)), "", "", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc, meta, err = svc.Download(context.Background(), result.FileID, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rc.Close()
		if meta.Checksum != "" {
			t.Errorf("expected empty checksum, got %q", meta.Checksum)
		}
	})

	t.Run("uncompressed download of a compressed file", func(t *testing.T) {
		svc, _, _ := newTestRelay(t)
		data := patterned(64 * testChunkSize)

		result, err := svc.ProcessUpload(context.Background(), "big.log", "text/plain", bytes.NewReader(data), "", "", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.CompressedSize >= result.Size {
			t.Errorf("expected compression to shrink %d, stored %d", result.Size, result.CompressedSize)
		}

		rc, meta, err := svc.Download(context.Background(), result.FileID, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int64(len(got)) != result.CompressedSize {
			t.Errorf("expected the stored form (%d bytes), got %d", result.CompressedSize, len(got))
		}
		if !meta.Compressed {
			t.Error("metadata must report the stored form as compressed")
		}
	})

	t.Run("oversize upload is rejected and leaves nothing behind", func(t *testing.T) {
		svc, _, dir := newTestRelay(t)
		svc.cfg.MaxFileSize = 4096

		_, err := svc.ProcessUpload(context.Background(), "big.bin", "", bytes.NewReader(patterned(5000)), "", "", true)
		if !errors.Is(err, ErrFileTooLarge) {
			t.Fatalf("expected ErrFileTooLarge, got %v", err)
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected no artifacts, found %d", len(entries))
		}
		if got := svc.Snapshot().ActiveFiles; got != 0 {
			t.Errorf("expected 0 active files, got %d", got)
		}
	})

	t.Run("filenames are sanitized", func(t *testing.T) {
		svc, _, _ := newTestRelay(t)

		result, err := svc.ProcessUpload(context.Background(), `..\..\evil\payload.exe`, "", bytes.NewReader([]byte("x")), "", "", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Name != "payload.exe" {
			t.Errorf("expected bare base name, got %q", result.Name)
		}
	})
}

func TestDownload(t *testing.T) {
	t.Run("unknown id yields ErrNotFound", func(t *testing.T) {
		svc, _, _ := newTestRelay(t)

		_, _, err := svc.Download(context.Background(), "missing", true)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("expired files are evicted eagerly", func(t *testing.T) {
		svc, clk, dir := newTestRelay(t)

		result, err := svc.ProcessUpload(context.Background(), "a.txt", "", bytes.NewReader(patterned(100)), "", "", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		clk.Add(2 * time.Hour)

		if _, _, err := svc.Download(context.Background(), result.FileID, true); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected blob removed on eager eviction, found %d entries", len(entries))
		}
	})
}

func TestSweepExpired(t *testing.T) {
	t.Run("removes only expired files and their blobs", func(t *testing.T) {
		svc, clk, dir := newTestRelay(t)

		old, err := svc.ProcessUpload(context.Background(), "old.bin", "", bytes.NewReader(patterned(200)), "", "", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clk.Add(45 * time.Minute)
		fresh, err := svc.ProcessUpload(context.Background(), "fresh.bin", "", bytes.NewReader(patterned(200)), "", "", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clk.Add(30 * time.Minute) // old is 75min past upload, fresh 30min

		if n := svc.SweepExpired(context.Background()); n != 1 {
			t.Errorf("expected 1 file swept, got %d", n)
		}

		if _, _, err := svc.Download(context.Background(), old.FileID, true); !errors.Is(err, ErrNotFound) {
			t.Error("old file should be gone")
		}
		rc, _, err := svc.Download(context.Background(), fresh.FileID, true)
		if err != nil {
			t.Fatalf("fresh file should survive: %v", err)
		}
		rc.Close()

		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("expected exactly the fresh blob on disk, found %d entries", len(entries))
		}
	})

	t.Run("sweep on empty index is a no-op", func(t *testing.T) {
		svc, _, _ := newTestRelay(t)
		if n := svc.SweepExpired(context.Background()); n != 0 {
			t.Errorf("expected 0, got %d", n)
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"report.pdf":        "report.pdf",
		"../../etc/passwd":  "passwd",
		`c:\temp\notes.txt`: "notes.txt",
		"":                  "file.bin",
		".":                 "file.bin",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
