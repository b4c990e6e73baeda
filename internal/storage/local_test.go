package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalStorage(t *testing.T) (*Storage, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(context.Background(), Config{Local: LocalConfig{Directory: dir}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func readAll(t *testing.T, rc io.ReadCloser) []byte {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestLocalScenario(t *testing.T) {
	ctx := context.Background()
	s, dir := newLocalStorage(t)

	src := filepath.Join(t.TempDir(), "a.txt")
	content := []byte("quarterly numbers")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	require.NoError(t, s.SelectBucket(ctx, "docs"))
	assert.DirExists(t, filepath.Join(dir, "docs"))

	require.NoError(t, s.AddFileFromPath(ctx, src, "report.txt"))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FileEntry{{Path: "report.txt", Size: int64(len(content))}}, files)
}

func TestLocalCreateBucketIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)

	require.NoError(t, s.CreateBucket(ctx, "Media Files"))
	require.NoError(t, s.CreateBucket(ctx, "Media Files"))

	buckets, err := s.ListBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"media-files"}, buckets)
	assert.Equal(t, "", s.SelectedBucket())
}

func TestLocalListBucketsEmpty(t *testing.T) {
	s, _ := newLocalStorage(t)

	buckets, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, buckets)
	assert.Empty(t, buckets)
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))

	data := []byte("0123456789abcdef")
	require.NoError(t, s.AddFileFromBuffer(ctx, data, "nested/dir/file.bin"))

	rc, err := s.GetFile(ctx, "nested/dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, data, readAll(t, rc))

	size, err := s.SizeOf(ctx, "nested/dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)

	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("new"), "nested/dir/file.bin"))
	rc, err = s.GetFile(ctx, "nested/dir/file.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), readAll(t, rc))
}

func TestLocalByteRange(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))

	data := []byte("0123456789")
	require.NoError(t, s.AddFileFromBuffer(ctx, data, "digits.txt"))

	tests := []struct {
		name   string
		start  int64
		length int64
		want   string
	}{
		{name: "bounded", start: 2, length: 3, want: "234"},
		{name: "to end", start: 7, length: ToEnd, want: "789"},
		{name: "whole file", start: 0, length: ToEnd, want: "0123456789"},
		{name: "past end is clamped", start: 8, length: 10, want: "89"},
		{name: "zero length", start: 3, length: 0, want: ""},
		{name: "start at size", start: 10, length: ToEnd, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, err := s.GetFileByteRange(ctx, "digits.txt", tt.start, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(readAll(t, rc)))
		})
	}

	_, err := s.GetFileByteRange(ctx, "digits.txt", 11, ToEnd)
	require.ErrorIs(t, err, ErrInvalidRange)
	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, KindLocal, backendErr.Provider)
}

func TestLocalNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))

	_, err := s.GetFile(ctx, "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetFileByteRange(ctx, "missing.txt", 0, 1)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.SizeOf(ctx, "missing.txt")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("hello"), "a.txt"))
	_, err = s.GetFile(ctx, "a.txt/child")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetFileByteRange(ctx, "a.txt/child", 0, 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.SizeOf(ctx, "a.txt/child")
	require.ErrorIs(t, err, ErrNotFound)

	err = s.DeleteBucket(ctx, "never-created")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRemoveFileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))

	require.NoError(t, s.RemoveFile(ctx, "ghost.txt"))

	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("x"), "ghost.txt"))
	require.NoError(t, s.RemoveFile(ctx, "ghost.txt"))
	require.NoError(t, s.RemoveFile(ctx, "ghost.txt"))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)

	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("hello"), "a.txt"))
	require.NoError(t, s.RemoveFile(ctx, "a.txt/child"))

	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("f"), "dir/f"))
	require.NoError(t, s.RemoveFile(ctx, "dir"))

	files, err = s.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FileEntry{{Path: "a.txt", Size: 5}, {Path: "dir/f", Size: 1}}, files)
}

func TestLocalRemoveFileKeepsEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	s, dir := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "b", "empty"), 0o755))

	require.NoError(t, s.RemoveFile(ctx, "empty"))
	assert.DirExists(t, filepath.Join(dir, "b", "empty"))
}

func TestLocalListsTempLookingKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))
	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("hello"), "a.txt"))
	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("x"), ".upload-report.tmp"))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []FileEntry{{Path: ".upload-report.tmp", Size: 1}, {Path: "a.txt", Size: 5}}, files)

	buckets, err := s.ListBuckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, buckets)
}

func TestLocalNoBucketSelected(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)

	_, err := s.ListFiles(ctx)
	require.ErrorIs(t, err, ErrNoBucketSelected)
	require.ErrorIs(t, s.ClearBucket(ctx, ""), ErrNoBucketSelected)
	require.ErrorIs(t, s.DeleteBucket(ctx, ""), ErrNoBucketSelected)
	require.ErrorIs(t, s.AddFileFromBuffer(ctx, []byte("x"), "a.txt"), ErrNoBucketSelected)

	require.NoError(t, s.SelectBucket(ctx, "b"))
	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("hello"), "a.txt"))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, FileEntry{Path: "a.txt", Size: 5}, files[0])
}

func TestLocalClearAndDeleteBucket(t *testing.T) {
	ctx := context.Background()
	s, dir := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))
	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("1"), "one.txt"))
	require.NoError(t, s.AddFileFromBuffer(ctx, []byte("22"), "sub/two.txt"))

	require.NoError(t, s.ClearBucket(ctx, ""))
	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.DirExists(t, filepath.Join(dir, "b"))

	require.NoError(t, s.DeleteBucket(ctx, ""))
	assert.NoDirExists(t, filepath.Join(dir, "b"))
	assert.Equal(t, "", s.SelectedBucket())
}

func TestLocalDeleteOtherBucketKeepsSelection(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.CreateBucket(ctx, "other"))
	require.NoError(t, s.SelectBucket(ctx, "b"))

	require.NoError(t, s.DeleteBucket(ctx, "other"))
	assert.Equal(t, "b", s.SelectedBucket())
}

func TestLocalSelectNullClearsSelection(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))
	require.NoError(t, s.SelectBucket(ctx, ""))
	assert.Equal(t, "", s.SelectedBucket())
}

func TestLocalPutIntoMissingBucket(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)

	err := s.Bucket("nowhere").AddFileFromBuffer(ctx, []byte("x"), "a.txt")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalFailedUploadLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	s, dir := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))

	err := s.AddFileFromReader(ctx, io.MultiReader(
		io.LimitReader(zeroReader{}, 64),
		errReader{},
	), 128, "partial.bin")
	require.Error(t, err)

	_, err = s.SizeOf(ctx, "partial.bin")
	require.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(filepath.Join(dir, "b"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = os.ReadDir(filepath.Join(dir, localTempDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalBucketHandlesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.CreateBucket(ctx, "left"))
	require.NoError(t, s.CreateBucket(ctx, "right"))

	var wg sync.WaitGroup
	for _, name := range []string{"left", "right"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			b := s.Bucket(name)
			for i := 0; i < 10; i++ {
				assert.NoError(t, b.AddFileFromBuffer(ctx, []byte(name), name+".txt"))
			}
		}(name)
	}
	wg.Wait()

	for _, name := range []string{"left", "right"} {
		files, err := s.Bucket(name).ListFiles(ctx)
		require.NoError(t, err)
		assert.Equal(t, []FileEntry{{Path: name + ".txt", Size: int64(len(name))}}, files)
	}
}

func TestSwitchStorageResetsSelection(t *testing.T) {
	ctx := context.Background()
	s, _ := newLocalStorage(t)
	require.NoError(t, s.SelectBucket(ctx, "b"))

	require.NoError(t, s.SwitchStorage(ctx, Config{
		BucketName: "Fresh Start",
		Local:      LocalConfig{Directory: t.TempDir()},
	}))
	assert.Equal(t, "fresh-start", s.SelectedBucket())

	require.NoError(t, s.SwitchStorage(ctx, Config{Local: LocalConfig{Directory: t.TempDir()}}))
	assert.Equal(t, "", s.SelectedBucket())

	require.ErrorIs(t, s.SwitchStorage(ctx, Config{}), ErrConfiguration)
	assert.Equal(t, KindLocal, s.Kind())
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}
