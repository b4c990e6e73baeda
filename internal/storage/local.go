package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
)

// localTempDir sits beside the buckets. Slugified bucket names never start
// with a dot, so no bucket or key can reach it.
const localTempDir = ".uploads"

// LocalClient stores buckets as directories below a root directory.
type LocalClient struct {
	root string
}

// NewLocalClient constructs a filesystem client from config.
func NewLocalClient(cfg LocalConfig) (*LocalClient, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, fmt.Errorf("%w: local directory is required", ErrConfiguration)
	}

	root, err := filepath.Abs(cfg.Directory)
	if err != nil {
		return nil, backendError(KindLocal, "resolve directory", err)
	}
	if err := os.MkdirAll(filepath.Join(root, localTempDir), 0o755); err != nil {
		return nil, backendError(KindLocal, "create directory", err)
	}

	return &LocalClient{root: root}, nil
}

// Kind reports KindLocal.
func (l *LocalClient) Kind() Kind {
	return KindLocal
}

// Close is a no-op; files are opened per operation.
func (l *LocalClient) Close() error {
	return nil
}

// CreateBucket creates the bucket directory if missing.
func (l *LocalClient) CreateBucket(_ context.Context, bucket string) error {
	if err := os.MkdirAll(l.bucketPath(bucket), 0o755); err != nil {
		return backendError(KindLocal, "create bucket", err)
	}
	return nil
}

// DeleteBucket removes the bucket directory and its contents.
func (l *LocalClient) DeleteBucket(_ context.Context, bucket string) error {
	dir, err := l.existingBucket(bucket)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return backendError(KindLocal, "delete bucket", err)
	}
	return nil
}

// ClearBucket removes everything inside the bucket directory.
func (l *LocalClient) ClearBucket(_ context.Context, bucket string) error {
	dir, err := l.existingBucket(bucket)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return backendError(KindLocal, "clear bucket", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return backendError(KindLocal, "clear bucket", err)
		}
	}
	return nil
}

// ListBuckets returns the directories directly below the root.
func (l *LocalClient) ListBuckets(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, backendError(KindLocal, "list buckets", err)
	}
	buckets := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			buckets = append(buckets, entry.Name())
		}
	}
	sort.Strings(buckets)
	return buckets, nil
}

// PutObject writes r to a temp file outside every bucket and renames it into
// place once the copy completed.
func (l *LocalClient) PutObject(_ context.Context, bucket, key string, r io.Reader, _ int64) error {
	if _, err := l.existingBucket(bucket); err != nil {
		return err
	}

	dst := l.objectPath(bucket, key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backendError(KindLocal, "create directories", err)
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, localTempDir), "put-*")
	if err != nil {
		return backendError(KindLocal, "create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return backendError(KindLocal, "write file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return backendError(KindLocal, "write file", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return backendError(KindLocal, "rename file", err)
	}
	return nil
}

// PutFile copies the file at srcPath into the bucket.
func (l *LocalClient) PutFile(ctx context.Context, bucket, key, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return backendError(KindLocal, "open source file", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return backendError(KindLocal, "stat source file", err)
	}
	return l.PutObject(ctx, bucket, key, src, info.Size())
}

// GetObject opens the file and positions it at offset.
func (l *LocalClient) GetObject(_ context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(l.objectPath(bucket, key))
	if err != nil {
		if isLocalNotExist(err) {
			return nil, notFound(bucket, key)
		}
		return nil, backendError(KindLocal, "open file", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, backendError(KindLocal, "stat file", err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, notFound(bucket, key)
	}

	empty, err := checkRange(info.Size(), offset, length)
	if err != nil {
		_ = f.Close()
		return nil, backendError(KindLocal, "read range", err)
	}
	if empty {
		_ = f.Close()
		return emptyReadCloser(), nil
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, backendError(KindLocal, "seek file", err)
		}
	}
	if length > 0 {
		return &limitedReadCloser{Reader: io.LimitReader(f, length), Closer: f}, nil
	}
	return f, nil
}

// RemoveObject deletes the file. Keys that do not name a file, including
// directories, are left alone.
func (l *LocalClient) RemoveObject(_ context.Context, bucket, key string) error {
	p := l.objectPath(bucket, key)
	info, err := os.Lstat(p)
	if err != nil {
		if isLocalNotExist(err) {
			return nil
		}
		return backendError(KindLocal, "remove file", err)
	}
	if info.IsDir() {
		return nil
	}
	if err := os.Remove(p); err != nil && !isLocalNotExist(err) {
		return backendError(KindLocal, "remove file", err)
	}
	return nil
}

// ListObjects walks the bucket directory and returns every regular file.
func (l *LocalClient) ListObjects(_ context.Context, bucket string) ([]FileEntry, error) {
	dir, err := l.existingBucket(bucket)
	if err != nil {
		return nil, err
	}

	files := []FileEntry{}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, FileEntry{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, backendError(KindLocal, "list files", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// StatObject returns the size of the file.
func (l *LocalClient) StatObject(_ context.Context, bucket, key string) (int64, error) {
	info, err := os.Stat(l.objectPath(bucket, key))
	if err != nil {
		if isLocalNotExist(err) {
			return 0, notFound(bucket, key)
		}
		return 0, backendError(KindLocal, "stat file", err)
	}
	if info.IsDir() {
		return 0, notFound(bucket, key)
	}
	return info.Size(), nil
}

func (l *LocalClient) bucketPath(bucket string) string {
	return filepath.Join(l.root, bucket)
}

func (l *LocalClient) objectPath(bucket, key string) string {
	return filepath.Join(l.root, bucket, filepath.FromSlash(key))
}

func (l *LocalClient) existingBucket(bucket string) (string, error) {
	dir := l.bucketPath(bucket)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", notFound(bucket, "")
		}
		return "", backendError(KindLocal, "stat bucket", err)
	}
	if !info.IsDir() {
		return "", notFound(bucket, "")
	}
	return dir, nil
}

// isLocalNotExist also treats a key running through a file as missing.
func isLocalNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
