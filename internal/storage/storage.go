package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// FileEntry is a stored file and its size in bytes.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ObjectStorage defines the bucket and file operations every provider implements.
// Bucket names reaching an ObjectStorage are already slugified and keys are
// already cleaned.
type ObjectStorage interface {
	// CreateBucket succeeds whether or not the bucket already existed.
	CreateBucket(ctx context.Context, bucket string) error
	// DeleteBucket removes the bucket and everything in it.
	DeleteBucket(ctx context.Context, bucket string) error
	// ClearBucket removes every file in the bucket.
	ClearBucket(ctx context.Context, bucket string) error
	ListBuckets(ctx context.Context) ([]string, error)

	// PutObject stores size bytes from r (size may be -1 when unknown),
	// overwriting any existing file at key.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) error
	// PutFile stores the contents of the local file at srcPath.
	PutFile(ctx context.Context, bucket, key, srcPath string) error
	// GetObject opens length bytes at offset, or the rest of the file when
	// length is negative. The caller must close the returned reader.
	GetObject(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)
	// RemoveObject succeeds when the key does not exist.
	RemoveObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket string) ([]FileEntry, error)
	StatObject(ctx context.Context, bucket, key string) (int64, error)

	Kind() Kind
	Close() error
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used to report adapter selection.
func WithLogger(log *zap.Logger) Option {
	return func(s *Storage) {
		if log != nil {
			s.log = log
		}
	}
}

// Storage wraps an ObjectStorage backend with a stable API and an optional
// selected bucket used by operations that are not given one explicitly.
type Storage struct {
	mu       sync.RWMutex
	backend  ObjectStorage
	selected string
	log      *zap.Logger
}

// New resolves cfg to a provider and constructs a Storage for it.
func New(ctx context.Context, cfg Config, opts ...Option) (*Storage, error) {
	s := &Storage{log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.SwitchStorage(ctx, cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend, log: zap.NewNop()}
}

// SwitchStorage replaces the active backend with one built from cfg. The
// previous backend is closed and the bucket selection is reset to
// cfg.BucketName.
func (s *Storage) SwitchStorage(ctx context.Context, cfg Config) error {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.backend
	s.backend = backend
	s.selected = Slugify(cfg.BucketName)
	s.mu.Unlock()

	s.log.Debug("storage backend selected",
		zap.String("kind", string(backend.Kind())),
		zap.String("bucket", s.SelectedBucket()))

	if previous != nil {
		if err := previous.Close(); err != nil {
			s.log.Warn("failed to close previous storage backend", zap.Error(err))
		}
	}
	return nil
}

func newBackend(ctx context.Context, cfg Config) (ObjectStorage, error) {
	kind, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindLocal:
		return NewLocalClient(cfg.Local)
	case KindS3:
		return NewMinioClient(cfg.S3)
	case KindGCS:
		return NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, kind)
	}
}

// Kind returns the provider kind of the active backend.
func (s *Storage) Kind() Kind {
	return s.current().Kind()
}

// Close releases the active backend.
func (s *Storage) Close() error {
	return s.current().Close()
}

// Test checks that the backend is reachable with the configured credentials.
func (s *Storage) Test(ctx context.Context) error {
	_, err := s.current().ListBuckets(ctx)
	return err
}

// CreateBucket creates the named bucket, or the selected bucket when name is
// empty. It succeeds if the bucket already exists.
func (s *Storage) CreateBucket(ctx context.Context, name string) error {
	return s.Bucket(s.orSelected(name)).Create(ctx)
}

// SelectBucket makes name the selected bucket, creating it if needed. An
// empty name clears the selection.
func (s *Storage) SelectBucket(ctx context.Context, name string) error {
	bucket := Slugify(name)
	if bucket == "" {
		s.setSelected("")
		return nil
	}
	if err := s.current().CreateBucket(ctx, bucket); err != nil {
		return err
	}
	s.setSelected(bucket)
	return nil
}

// ClearBucket removes every file from the named bucket, or from the selected
// bucket when name is empty.
func (s *Storage) ClearBucket(ctx context.Context, name string) error {
	return s.Bucket(s.orSelected(name)).Clear(ctx)
}

// DeleteBucket removes the named bucket, or the selected bucket when name is
// empty. Deleting the selected bucket clears the selection.
func (s *Storage) DeleteBucket(ctx context.Context, name string) error {
	b := s.Bucket(s.orSelected(name))
	if err := b.Delete(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	if s.selected == b.name {
		s.selected = ""
	}
	s.mu.Unlock()
	return nil
}

// ListBuckets returns the names of all buckets visible to the backend.
func (s *Storage) ListBuckets(ctx context.Context) ([]string, error) {
	buckets, err := s.current().ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	if buckets == nil {
		buckets = []string{}
	}
	return buckets, nil
}

// SelectedBucket returns the selected bucket, or "" when none is selected.
func (s *Storage) SelectedBucket() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// AddFileFromPath copies the local file at srcPath to targetPath in the
// selected bucket.
func (s *Storage) AddFileFromPath(ctx context.Context, srcPath, targetPath string) error {
	return s.Bucket(s.SelectedBucket()).AddFileFromPath(ctx, srcPath, targetPath)
}

// AddFileFromBuffer stores data at targetPath in the selected bucket.
func (s *Storage) AddFileFromBuffer(ctx context.Context, data []byte, targetPath string) error {
	return s.Bucket(s.SelectedBucket()).AddFileFromBuffer(ctx, data, targetPath)
}

// AddFileFromReader streams size bytes from r to targetPath in the selected
// bucket. Pass -1 when the size is unknown.
func (s *Storage) AddFileFromReader(ctx context.Context, r io.Reader, size int64, targetPath string) error {
	return s.Bucket(s.SelectedBucket()).AddFileFromReader(ctx, r, size, targetPath)
}

// GetFile opens the named file in the selected bucket.
func (s *Storage) GetFile(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.Bucket(s.SelectedBucket()).GetFile(ctx, name)
}

// GetFileByteRange opens length bytes of the named file starting at start.
// Pass ToEnd to read to the end of the file.
func (s *Storage) GetFileByteRange(ctx context.Context, name string, start, length int64) (io.ReadCloser, error) {
	return s.Bucket(s.SelectedBucket()).GetFileByteRange(ctx, name, start, length)
}

// RemoveFile deletes the named file from the selected bucket. Missing files
// are not an error.
func (s *Storage) RemoveFile(ctx context.Context, name string) error {
	return s.Bucket(s.SelectedBucket()).RemoveFile(ctx, name)
}

// ListFiles returns every file in the selected bucket.
func (s *Storage) ListFiles(ctx context.Context) ([]FileEntry, error) {
	return s.Bucket(s.SelectedBucket()).ListFiles(ctx)
}

// SizeOf returns the size in bytes of the named file in the selected bucket.
func (s *Storage) SizeOf(ctx context.Context, name string) (int64, error) {
	return s.Bucket(s.SelectedBucket()).SizeOf(ctx, name)
}

// Bucket returns a handle bound to the named bucket on the active backend.
// The handle ignores the selection, so concurrent callers can use their own
// buckets without racing on SelectBucket.
func (s *Storage) Bucket(name string) *Bucket {
	return &Bucket{backend: s.current(), name: Slugify(name)}
}

func (s *Storage) current() ObjectStorage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

func (s *Storage) setSelected(bucket string) {
	s.mu.Lock()
	s.selected = bucket
	s.mu.Unlock()
}

func (s *Storage) orSelected(name string) string {
	if Slugify(name) != "" {
		return name
	}
	return s.SelectedBucket()
}

// Bucket exposes file operations on a single bucket.
type Bucket struct {
	backend ObjectStorage
	name    string
}

// Name returns the slugified bucket name, or "" for an unbound handle.
func (b *Bucket) Name() string {
	return b.name
}

// Create creates the bucket if it does not exist.
func (b *Bucket) Create(ctx context.Context) error {
	if b.name == "" {
		return ErrNoBucketSelected
	}
	return b.backend.CreateBucket(ctx, b.name)
}

// Clear removes every file in the bucket.
func (b *Bucket) Clear(ctx context.Context) error {
	if b.name == "" {
		return ErrNoBucketSelected
	}
	return b.backend.ClearBucket(ctx, b.name)
}

// Delete removes the bucket itself.
func (b *Bucket) Delete(ctx context.Context) error {
	if b.name == "" {
		return ErrNoBucketSelected
	}
	return b.backend.DeleteBucket(ctx, b.name)
}

// AddFileFromPath copies the local file at srcPath to targetPath.
func (b *Bucket) AddFileFromPath(ctx context.Context, srcPath, targetPath string) error {
	key, err := b.key(targetPath)
	if err != nil {
		return err
	}
	return b.backend.PutFile(ctx, b.name, key, srcPath)
}

// AddFileFromBuffer stores data at targetPath.
func (b *Bucket) AddFileFromBuffer(ctx context.Context, data []byte, targetPath string) error {
	return b.AddFileFromReader(ctx, bytes.NewReader(data), int64(len(data)), targetPath)
}

// AddFileFromReader streams size bytes from r to targetPath.
func (b *Bucket) AddFileFromReader(ctx context.Context, r io.Reader, size int64, targetPath string) error {
	key, err := b.key(targetPath)
	if err != nil {
		return err
	}
	return b.backend.PutObject(ctx, b.name, key, r, size)
}

// GetFile opens the full contents of the named file.
func (b *Bucket) GetFile(ctx context.Context, name string) (io.ReadCloser, error) {
	return b.GetFileByteRange(ctx, name, 0, ToEnd)
}

// GetFileByteRange opens length bytes of the named file starting at start.
func (b *Bucket) GetFileByteRange(ctx context.Context, name string, start, length int64) (io.ReadCloser, error) {
	key, err := b.key(name)
	if err != nil {
		return nil, err
	}
	return b.backend.GetObject(ctx, b.name, key, start, length)
}

// RemoveFile deletes the named file. Missing files are not an error.
func (b *Bucket) RemoveFile(ctx context.Context, name string) error {
	key, err := b.key(name)
	if err != nil {
		return err
	}
	return b.backend.RemoveObject(ctx, b.name, key)
}

// ListFiles returns every file in the bucket.
func (b *Bucket) ListFiles(ctx context.Context) ([]FileEntry, error) {
	if b.name == "" {
		return nil, ErrNoBucketSelected
	}
	files, err := b.backend.ListObjects(ctx, b.name)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []FileEntry{}
	}
	return files, nil
}

// SizeOf returns the size in bytes of the named file.
func (b *Bucket) SizeOf(ctx context.Context, name string) (int64, error) {
	key, err := b.key(name)
	if err != nil {
		return 0, err
	}
	return b.backend.StatObject(ctx, b.name, key)
}

func (b *Bucket) key(name string) (string, error) {
	if b.name == "" {
		return "", ErrNoBucketSelected
	}
	return cleanKey(name)
}
