package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjudge-oj/mediastore/internal/mq"
	"github.com/jjudge-oj/mediastore/internal/storage"
	"github.com/jjudge-oj/mediastore/internal/store"
	"github.com/jjudge-oj/mediastore/types"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type memoryRepo struct {
	mu     sync.Mutex
	nextID int64
	files  map[int64]types.MediaFile
	failOn string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{files: map[int64]types.MediaFile{}}
}

func (r *memoryRepo) List(_ context.Context, offset, limit int) ([]types.MediaFile, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []types.MediaFile{}
	for id := int64(1); id <= r.nextID; id++ {
		if f, ok := r.files[id]; ok {
			out = append(out, f)
		}
	}
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (types.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return types.MediaFile{}, store.ErrNotFound
	}
	return f, nil
}

func (r *memoryRepo) GetByPath(_ context.Context, path string) (types.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.files {
		if f.Path == path {
			return f, nil
		}
	}
	return types.MediaFile{}, store.ErrNotFound
}

func (r *memoryRepo) Create(_ context.Context, file types.MediaFile) (types.MediaFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == "create" {
		return types.MediaFile{}, errors.New("database is down")
	}
	r.nextID++
	file.ID = r.nextID
	r.files[file.ID] = file
	return file, nil
}

func (r *memoryRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *memoryRepo) DeleteByPath(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, f := range r.files {
		if f.Path == path {
			delete(r.files, id)
			return nil
		}
	}
	return store.ErrNotFound
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.MediaEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, event mq.MediaEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService(t *testing.T) (*MediaService, *storage.Storage, *memoryRepo, *recordingPublisher) {
	t.Helper()
	st, err := storage.New(context.Background(), storage.Config{
		Local: storage.LocalConfig{Directory: t.TempDir()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.SelectBucket(context.Background(), "uploads"))

	repo := newMemoryRepo()
	events := &recordingPublisher{}
	return NewMediaService(repo, st, events), st, repo, events
}

func TestMoveUploadedFile(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	data := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 100)...)
	stored, err := svc.MoveUploadedFile(ctx, Upload{
		Name:        "Holiday Photo.PNG",
		ContentType: "image/png",
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}, "images/2024")
	require.NoError(t, err)

	assert.Equal(t, StoredFile{
		OrigName:    "Holiday Photo.PNG",
		Path:        "images/2024/holiday-photo.png",
		Size:        int64(len(data)),
		ContentType: "image/png",
		Bucket:      "uploads",
	}, stored)

	size, err := st.SizeOf(ctx, stored.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), size)
}

func TestRegisterUsesBucketOfWrite(t *testing.T) {
	ctx := context.Background()
	svc, st, repo, _ := newTestService(t)

	stored, err := svc.MoveUploadedFile(ctx, Upload{
		Name:        "scan.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        bytes.NewReader([]byte("%PDF")),
	}, "")
	require.NoError(t, err)

	require.NoError(t, st.SelectBucket(ctx, "archive"))

	file, err := svc.Register(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "uploads", file.Bucket)

	saved, err := repo.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "uploads", saved.Bucket)

	_, err = st.Bucket("uploads").SizeOf(ctx, "scan.pdf")
	require.NoError(t, err)
}

func TestMoveUploadedFileRejectsUnsupportedType(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	_, err := svc.MoveUploadedFile(ctx, Upload{
		Name:        "run.sh",
		ContentType: "text/x-shellscript",
		Size:        9,
		Body:        strings.NewReader("#!/bin/sh"),
	}, "scripts")
	require.ErrorIs(t, err, ErrUnsupportedType)

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestMoveUploadedFileSniffsMissingType(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	stored, err := svc.MoveUploadedFile(ctx, Upload{
		Name: "scan",
		Size: -1,
		Body: bytes.NewReader(pngHeader),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", stored.ContentType)
	assert.Equal(t, "scan.png", stored.Path)
	assert.Equal(t, int64(len(pngHeader)), stored.Size)
}

func TestMoveUploadedFileWrapsStorageFailure(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)
	require.NoError(t, st.SelectBucket(ctx, ""))

	_, err := svc.MoveUploadedFile(ctx, Upload{
		Name:        "a.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	}, "docs")
	require.ErrorIs(t, err, ErrMoveFailed)
	require.ErrorIs(t, err, storage.ErrNoBucketSelected)
}

func TestUploadRegistersAndPublishes(t *testing.T) {
	ctx := context.Background()
	svc, _, repo, events := newTestService(t)

	file, err := svc.Upload(ctx, Upload{
		Name:        "Report.pdf",
		ContentType: "application/pdf; charset=binary",
		Size:        8,
		Body:        strings.NewReader("%PDF-1.7"),
	}, "docs")
	require.NoError(t, err)

	assert.Equal(t, int64(1), file.ID)
	assert.Equal(t, "docs/report.pdf", file.Path)
	assert.Equal(t, "uploads", file.Bucket)
	assert.Equal(t, "application/pdf", file.ContentType)
	assert.Len(t, repo.files, 1)
	assert.Equal(t, []string{mq.EventMediaStored}, events.eventTypes())
}

func TestUploadRemovesFileWhenRegisterFails(t *testing.T) {
	ctx := context.Background()
	svc, st, repo, events := newTestService(t)
	repo.failOn = "create"

	_, err := svc.Upload(ctx, Upload{
		Name:        "a.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	}, "")
	require.Error(t, err)

	files, err := st.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, events.eventTypes())
}

func TestOpenRange(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(t)

	file, err := svc.Upload(ctx, Upload{
		Name:        "doc.pdf",
		ContentType: "application/pdf",
		Size:        10,
		Body:        strings.NewReader("%PDF-abcde"),
	}, "")
	require.NoError(t, err)

	rc, err := svc.Open(ctx, file, 5, storage.ToEnd)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abcde", string(data))
}

func TestOpenUsesRecordedBucket(t *testing.T) {
	ctx := context.Background()
	svc, st, _, _ := newTestService(t)

	file, err := svc.Upload(ctx, Upload{
		Name:        "doc.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	}, "")
	require.NoError(t, err)

	require.NoError(t, st.SelectBucket(ctx, "elsewhere"))

	size, err := svc.SizeOf(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc, st, repo, events := newTestService(t)

	file, err := svc.Upload(ctx, Upload{
		Name:        "a.gif",
		ContentType: "image/gif",
		Size:        6,
		Body:        strings.NewReader("GIF89a"),
	}, "")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, file.ID))
	assert.Empty(t, repo.files)

	_, err = st.SizeOf(ctx, file.Path)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{mq.EventMediaStored, mq.EventMediaRemoved}, events.eventTypes())

	require.ErrorIs(t, svc.Delete(ctx, file.ID), store.ErrNotFound)
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	svc, st, repo, events := newTestService(t)

	file, err := svc.Upload(ctx, Upload{
		Name:        "a.gif",
		ContentType: "image/gif",
		Size:        6,
		Body:        strings.NewReader("GIF89a"),
	}, "pics")
	require.NoError(t, err)

	require.NoError(t, svc.Unlink(ctx, file.Path))
	assert.Empty(t, repo.files)
	_, err = st.SizeOf(ctx, file.Path)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, svc.Unlink(ctx, "pics/never-there.gif"))
	assert.Equal(t, []string{mq.EventMediaStored, mq.EventMediaRemoved, mq.EventMediaRemoved}, events.eventTypes())
}

func TestPublishFailureDoesNotFailUpload(t *testing.T) {
	ctx := context.Background()
	svc, _, _, events := newTestService(t)
	events.err = errors.New("broker unavailable")

	_, err := svc.Upload(ctx, Upload{
		Name:        "a.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	}, "")
	require.NoError(t, err)
}

func TestNilPublisher(t *testing.T) {
	ctx := context.Background()
	_, st, repo, _ := newTestService(t)
	svc := NewMediaService(repo, st, nil)

	_, err := svc.Upload(ctx, Upload{
		Name:        "a.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	}, "")
	require.NoError(t, err)
}

func TestListClampsLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, repo, _ := newTestService(t)
	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, types.MediaFile{Path: string(rune('a' + i))})
		require.NoError(t, err)
	}

	files, total, err := svc.List(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, files, 2)
}

func TestStoredKey(t *testing.T) {
	tests := []struct {
		location    string
		name        string
		contentType string
		want        string
	}{
		{location: "", name: "My File.pdf", contentType: "application/pdf", want: "my-file.pdf"},
		{location: "/a/b/", name: "x.JPG", contentType: "image/jpeg", want: "a/b/x.jpg"},
		{location: "a", name: `C:\Users\me\photo.png`, contentType: "image/png", want: "a/photo.png"},
		{location: "a", name: "noext", contentType: "image/gif", want: "a/noext.gif"},
		{location: "", name: "!!!.png", contentType: "image/png", want: "file.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storedKey(tt.location, tt.name, tt.contentType))
		})
	}
}
