package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"sendit/internal/core"
)

const testChunkSize = 1024

func newTestStore(t *testing.T) (*FileSystemStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := NewFileSystemStore(dir, core.NewBufferPool(testChunkSize))
	if err := store.EnsureDir(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return store, dir
}

// patterned produces compressible but non-constant content of length n.
func patterned(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + (i/7)%20)
	}
	return data
}

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("raw save stores bytes verbatim", func(t *testing.T) {
		store, dir := newTestStore(t)

		stored, original, err := store.Save("abc123", bytes.NewReader([]byte("test content")), false, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if original != 12 || stored != 12 {
			t.Errorf("expected 12/12 bytes, got %d/%d", stored, original)
		}

		content, err := os.ReadFile(filepath.Join(dir, "abc123.bin"))
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("compressed save shrinks patterned content", func(t *testing.T) {
		store, dir := newTestStore(t)
		data := patterned(64 * 1024)

		stored, original, err := store.Save("big", bytes.NewReader(data), true, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if original != int64(len(data)) {
			t.Errorf("expected original %d, got %d", len(data), original)
		}
		if stored >= original {
			t.Errorf("expected compression to shrink %d bytes, stored %d", original, stored)
		}
		if _, err := os.Stat(filepath.Join(dir, "big.gz")); err != nil {
			t.Errorf("expected .gz blob on disk: %v", err)
		}
	})

	t.Run("rejects streams over the limit and removes the partial blob", func(t *testing.T) {
		store, dir := newTestStore(t)

		_, _, err := store.Save("huge", bytes.NewReader(patterned(5000)), true, 4096)
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("expected ErrTooLarge, got %v", err)
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected no leftover artifacts, found %d", len(entries))
		}
	})

	t.Run("read failure removes the partial blob", func(t *testing.T) {
		store, dir := newTestStore(t)

		src := io.MultiReader(bytes.NewReader(patterned(2000)), &failingReader{})
		_, _, err := store.Save("broken", src, false, 0)
		if err == nil {
			t.Fatal("expected an error from the failing reader")
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected no leftover artifacts, found %d", len(entries))
		}
	})
}

func TestFileSystemStore_Open(t *testing.T) {
	roundTripSizes := []int{0, 1, testChunkSize - 1, testChunkSize, 3*testChunkSize + 7}

	t.Run("compressed round trip across chunk boundaries", func(t *testing.T) {
		store, _ := newTestStore(t)

		for _, size := range roundTripSizes {
			data := patterned(size)
			id := "rt"
			if _, _, err := store.Save(id, bytes.NewReader(data), true, 0); err != nil {
				t.Fatalf("save failed for %d bytes: %v", size, err)
			}

			rc, err := store.Open(id, true, true)
			if err != nil {
				t.Fatalf("open failed for %d bytes: %v", size, err)
			}
			got, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("read failed for %d bytes: %v", size, err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("round trip mismatch at %d bytes: got %d back", size, len(got))
			}
			store.Delete(id)
		}
	})

	t.Run("opting out of decompression yields the stored form", func(t *testing.T) {
		store, dir := newTestStore(t)
		data := patterned(8 * testChunkSize)

		stored, _, err := store.Save("raw-form", bytes.NewReader(data), true, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rc, err := store.Open("raw-form", true, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if int64(len(got)) != stored {
			t.Errorf("expected %d stored bytes, got %d", stored, len(got))
		}

		onDisk, _ := os.ReadFile(filepath.Join(dir, "raw-form.gz"))
		if !bytes.Equal(got, onDisk) {
			t.Error("stored-form read should match the blob byte for byte")
		}
	})

	t.Run("missing blob reports not-exist", func(t *testing.T) {
		store, _ := newTestStore(t)

		_, err := store.Open("nope", false, false)
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected os.ErrNotExist, got %v", err)
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("removes whichever form exists", func(t *testing.T) {
		store, dir := newTestStore(t)

		store.Save("one", bytes.NewReader([]byte("x")), true, 0)
		store.Save("two", bytes.NewReader([]byte("y")), false, 0)

		if err := store.Delete("one"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := store.Delete("two"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("expected empty dir, found %d entries", len(entries))
		}
	})

	t.Run("deleting a missing blob is not an error", func(t *testing.T) {
		store, _ := newTestStore(t)
		if err := store.Delete("ghost"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

type failingReader struct{}

func (f *failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}
