package s2tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// Store is random-access byte storage for one archive. Reads fill p
// completely or fail. Writes past the current size extend the store.
type Store interface {
	ReadAt(ctx context.Context, p []byte, off int64) error
	WriteAt(ctx context.Context, p []byte, off int64) error
	Size(ctx context.Context) (int64, error)
	Close() error
}

// FileStore backs an archive with a local file.
type FileStore struct {
	file *os.File
}

// NewFileStore opens or creates the file at path for reading and writing.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileStore{file: f}, nil
}

// OpenFileStore opens the file at path read-only for serving an existing
// archive.
func OpenFileStore(path string) (*FileStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileStore{file: f}, nil
}

func (s *FileStore) ReadAt(_ context.Context, p []byte, off int64) error {
	if _, err := s.file.ReadAt(p, off); err != nil {
		return fmt.Errorf("read %d bytes at %d: %w", len(p), off, err)
	}
	return nil
}

func (s *FileStore) WriteAt(_ context.Context, p []byte, off int64) error {
	if _, err := s.file.WriteAt(p, off); err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(p), off, err)
	}
	return nil
}

func (s *FileStore) Size(_ context.Context) (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Truncate sets the file length, zero-filling any extension.
func (s *FileStore) Truncate(size int64) error {
	return s.file.Truncate(size)
}

func (s *FileStore) Close() error {
	return s.file.Close()
}

// MemStore backs an archive with an in-memory byte slice.
type MemStore struct {
	data []byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// NewMemStoreBytes wraps existing archive bytes. The store takes ownership
// of data.
func NewMemStoreBytes(data []byte) *MemStore {
	return &MemStore{data: data}
}

// Bytes returns the current contents. The slice aliases the store.
func (s *MemStore) Bytes() []byte {
	return s.data
}

func (s *MemStore) ReadAt(_ context.Context, p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(len(s.data)) {
		return fmt.Errorf("read %d bytes at %d beyond size %d: %w", len(p), off, len(s.data), io.ErrUnexpectedEOF)
	}
	copy(p, s.data[off:])
	return nil
}

func (s *MemStore) WriteAt(_ context.Context, p []byte, off int64) error {
	if off < 0 {
		return errors.New("negative offset")
	}
	if end := off + int64(len(p)); end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[off:], p)
	return nil
}

func (s *MemStore) Size(_ context.Context) (int64, error) {
	return int64(len(s.data)), nil
}

func (s *MemStore) Close() error {
	return nil
}

// BucketStore adapts a Bucket key to the read side of Store. Writes are
// rejected; cloud archives are produced locally and uploaded whole.
type BucketStore struct {
	bucket Bucket
	key    string
	size   int64
}

// NewBucketStore wraps one object in a bucket. size may be -1 when unknown.
func NewBucketStore(bucket Bucket, key string, size int64) *BucketStore {
	return &BucketStore{bucket: bucket, key: key, size: size}
}

func (s *BucketStore) ReadAt(ctx context.Context, p []byte, off int64) error {
	r, err := s.bucket.NewRangeReader(ctx, s.key, off, int64(len(p)))
	if err != nil {
		return fmt.Errorf("range read %s at %d: %w", s.key, off, err)
	}
	defer r.Close()
	if _, err := io.ReadFull(r, p); err != nil {
		return fmt.Errorf("range read %s at %d: %w", s.key, off, err)
	}
	return nil
}

func (s *BucketStore) WriteAt(_ context.Context, _ []byte, _ int64) error {
	return errors.New("bucket store is read-only")
}

func (s *BucketStore) Size(_ context.Context) (int64, error) {
	if s.size < 0 {
		return 0, errors.New("bucket store size unknown")
	}
	return s.size, nil
}

func (s *BucketStore) Close() error {
	return nil
}
