package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"sendit/internal/core"
)

// ErrTooLarge is returned when an incoming stream exceeds the save limit.
var ErrTooLarge = errors.New("data exceeds size limit")

// Store defines the interface for relay blob backends.
// This allows swapping filesystem for S3 or other backends later.
type Store interface {
	// Save streams data to disk, optionally gzip-compressing it, and
	// returns the stored and original byte counts. Streams longer than
	// limit are rejected and no partial artifact survives.
	Save(fileID string, data io.Reader, compress bool, limit int64) (stored, original int64, err error)

	// Open returns a reader over the stored bytes. When the blob is
	// compressed and decompress is set, the reader yields the original
	// bytes; otherwise it yields the bytes as stored.
	Open(fileID string, compressed, decompress bool) (io.ReadCloser, error)

	// Delete removes any blob stored for fileID.
	Delete(fileID string) error

	EnsureDir() error
}

// FileSystemStore keeps relayed blobs on the local filesystem. All copies go
// through a shared pool of fixed-size buffers; whole files are never held in
// memory.
type FileSystemStore struct {
	basePath string
	buffers  *core.BufferPool
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string, buffers *core.BufferPool) *FileSystemStore {
	return &FileSystemStore{basePath: basePath, buffers: buffers}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to {fileID}.gz or {fileID}.bin depending on compress.
func (fs *FileSystemStore) Save(fileID string, data io.Reader, compress bool, limit int64) (int64, int64, error) {
	filePath := fs.blobPath(fileID, compress)

	file, err := os.Create(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	discard := func() {
		file.Close()
		os.Remove(filePath)
	}

	counted := &countingWriter{w: file}
	var dst io.Writer = counted
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(counted)
		dst = gz
	}

	buf := fs.buffers.Get()
	defer fs.buffers.Put(buf)

	var original int64
	for {
		n, rerr := data.Read(buf)
		if n > 0 {
			original += int64(n)
			if limit > 0 && original > limit {
				discard()
				return 0, 0, ErrTooLarge
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				discard()
				return 0, 0, fmt.Errorf("failed to write file: %w", werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			discard()
			return 0, 0, fmt.Errorf("failed to read upload stream: %w", rerr)
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			discard()
			return 0, 0, fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(filePath)
		return 0, 0, fmt.Errorf("failed to close file: %w", err)
	}

	return counted.n, original, nil
}

// Open returns a streaming reader over the blob for fileID.
func (fs *FileSystemStore) Open(fileID string, compressed, decompress bool) (io.ReadCloser, error) {
	file, err := os.Open(fs.blobPath(fileID, compressed))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found for file %s: %w", fileID, err)
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	if compressed && decompress {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open compressed blob: %w", err)
		}
		return &gzipReadCloser{gz: gz, file: file}, nil
	}
	return file, nil
}

// Delete removes the stored blob for a file, whichever form it was saved in.
func (fs *FileSystemStore) Delete(fileID string) error {
	for _, path := range []string{fs.blobPath(fileID, true), fs.blobPath(fileID, false)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete blob %s: %w", path, err)
		}
	}
	return nil
}

func (fs *FileSystemStore) blobPath(fileID string, compressed bool) string {
	if compressed {
		return filepath.Join(fs.basePath, fileID+".gz")
	}
	return filepath.Join(fs.basePath, fileID+".bin")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// gzipReadCloser closes the decompressor and the underlying file together.
type gzipReadCloser struct {
	gz   *gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.gz.Read(p)
}

func (g *gzipReadCloser) Close() error {
	err := g.gz.Close()
	if ferr := g.file.Close(); err == nil {
		err = ferr
	}
	return err
}
