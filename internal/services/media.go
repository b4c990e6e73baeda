package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/internal/logging"
	"github.com/jjudge-oj/mediastore/internal/metrics"
	"github.com/jjudge-oj/mediastore/internal/mq"
	"github.com/jjudge-oj/mediastore/internal/storage"
	"github.com/jjudge-oj/mediastore/internal/store"
	"github.com/jjudge-oj/mediastore/types"
)

var (
	// ErrUnsupportedType is returned for uploads outside SupportedMIMETypes.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrMoveFailed is returned when an accepted upload could not be written
	// to storage.
	ErrMoveFailed = errors.New("failed to move uploaded file")
)

// SupportedMIMETypes lists the content types accepted for upload.
var SupportedMIMETypes = []string{
	"image/png",
	"image/jpg",
	"image/jpeg",
	"image/gif",
	"image/svg+xml",
	"image/svg",
	"application/svg",
	"application/svg+xml",
	"application/pdf",
	"application/x-pdf",
	"application/msword",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

const sniffLen = 3072

// MediaRepository defines persistence operations for media metadata.
type MediaRepository interface {
	List(ctx context.Context, offset, limit int) ([]types.MediaFile, int, error)
	Get(ctx context.Context, id int64) (types.MediaFile, error)
	GetByPath(ctx context.Context, path string) (types.MediaFile, error)
	Create(ctx context.Context, file types.MediaFile) (types.MediaFile, error)
	Delete(ctx context.Context, id int64) error
	DeleteByPath(ctx context.Context, path string) error
}

// EventPublisher announces media changes.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event mq.MediaEvent) error
}

// Upload is a file received from a client.
type Upload struct {
	Name        string
	ContentType string
	// Size is -1 when unknown.
	Size int64
	Body io.Reader
}

// StoredFile describes an upload after it was written to storage.
type StoredFile struct {
	OrigName    string `json:"origName"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Bucket      string `json:"bucket"`
}

// MediaService encapsulates media file use-cases.
type MediaService struct {
	repo    MediaRepository
	storage *storage.Storage
	events  EventPublisher
}

// NewMediaService builds a MediaService. events may be nil.
func NewMediaService(repo MediaRepository, st *storage.Storage, events EventPublisher) *MediaService {
	return &MediaService{repo: repo, storage: st, events: events}
}

// MoveUploadedFile validates upload and streams it into the selected bucket
// under location. The stored name is the slugified original base name with
// its extension.
func (s *MediaService) MoveUploadedFile(ctx context.Context, upload Upload, location string) (StoredFile, error) {
	body := upload.Body
	contentType := normalizeContentType(upload.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		head := make([]byte, sniffLen)
		n, err := io.ReadFull(body, head)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return StoredFile{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
		}
		head = head[:n]
		contentType = normalizeContentType(mimetype.Detect(head).String())
		body = io.MultiReader(bytes.NewReader(head), body)
	}
	if !slices.Contains(SupportedMIMETypes, contentType) {
		metrics.RecordUpload(0, false)
		return StoredFile{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := storedKey(location, upload.Name, contentType)
	counter := &countingReader{r: body}
	bucket := s.storage.Bucket(s.storage.SelectedBucket())

	start := time.Now()
	err := bucket.AddFileFromReader(ctx, counter, upload.Size, key)
	metrics.RecordStorageOperation(string(s.storage.Kind()), "put", time.Since(start), err)
	if err != nil {
		metrics.RecordUpload(counter.n, false)
		return StoredFile{}, fmt.Errorf("%w: %w", ErrMoveFailed, err)
	}
	metrics.RecordUpload(counter.n, true)

	return StoredFile{
		OrigName:    upload.Name,
		Path:        key,
		Size:        counter.n,
		ContentType: contentType,
		Bucket:      bucket.Name(),
	}, nil
}

// Register records metadata for a stored file in the bucket it was written to.
func (s *MediaService) Register(ctx context.Context, stored StoredFile) (types.MediaFile, error) {
	file, err := s.repo.Create(ctx, types.MediaFile{
		Name:        stored.OrigName,
		Path:        stored.Path,
		Size:        stored.Size,
		ContentType: stored.ContentType,
		Bucket:      stored.Bucket,
	})
	if err != nil {
		return types.MediaFile{}, err
	}
	s.publish(ctx, mq.EventMediaStored, file)
	return file, nil
}

// Upload moves upload into storage and registers it. If registration fails
// the stored object is removed again.
func (s *MediaService) Upload(ctx context.Context, upload Upload, location string) (types.MediaFile, error) {
	stored, err := s.MoveUploadedFile(ctx, upload, location)
	if err != nil {
		return types.MediaFile{}, err
	}
	file, err := s.Register(ctx, stored)
	if err != nil {
		if rmErr := s.storage.Bucket(stored.Bucket).RemoveFile(ctx, stored.Path); rmErr != nil {
			logging.L().Warn("failed to remove unregistered upload",
				zap.String("path", stored.Path), zap.Error(rmErr))
		}
		return types.MediaFile{}, err
	}
	return file, nil
}

// GetStoredFiles lists the raw contents of the selected bucket.
func (s *MediaService) GetStoredFiles(ctx context.Context) ([]storage.FileEntry, error) {
	start := time.Now()
	files, err := s.storage.ListFiles(ctx)
	metrics.RecordStorageOperation(string(s.storage.Kind()), "list", time.Since(start), err)
	return files, err
}

func (s *MediaService) List(ctx context.Context, offset, limit int) ([]types.MediaFile, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, offset, limit)
}

func (s *MediaService) Get(ctx context.Context, id int64) (types.MediaFile, error) {
	return s.repo.Get(ctx, id)
}

// Open reads length bytes of file starting at start. Pass storage.ToEnd to
// read to the end.
func (s *MediaService) Open(ctx context.Context, file types.MediaFile, start, length int64) (io.ReadCloser, error) {
	begin := time.Now()
	rc, err := s.bucketOf(file).GetFileByteRange(ctx, file.Path, start, length)
	metrics.RecordStorageOperation(string(s.storage.Kind()), "get", time.Since(begin), err)
	return rc, err
}

// SizeOf returns the stored size of file, which may differ from the recorded
// size if the object was replaced out of band.
func (s *MediaService) SizeOf(ctx context.Context, file types.MediaFile) (int64, error) {
	return s.bucketOf(file).SizeOf(ctx, file.Path)
}

// Unlink removes the file at filePath from the selected bucket along with
// any metadata recorded for it.
func (s *MediaService) Unlink(ctx context.Context, filePath string) error {
	start := time.Now()
	err := s.storage.RemoveFile(ctx, filePath)
	metrics.RecordStorageOperation(string(s.storage.Kind()), "remove", time.Since(start), err)
	if err != nil {
		return err
	}

	file, err := s.repo.GetByPath(ctx, filePath)
	switch {
	case errors.Is(err, store.ErrNotFound):
		file = types.MediaFile{Path: filePath, Bucket: s.storage.SelectedBucket()}
	case err != nil:
		return err
	default:
		if err := s.repo.DeleteByPath(ctx, filePath); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	s.publish(ctx, mq.EventMediaRemoved, file)
	return nil
}

// Delete removes the file recorded under id and its metadata.
func (s *MediaService) Delete(ctx context.Context, id int64) error {
	file, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	start := time.Now()
	err = s.bucketOf(file).RemoveFile(ctx, file.Path)
	metrics.RecordStorageOperation(string(s.storage.Kind()), "remove", time.Since(start), err)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, mq.EventMediaRemoved, file)
	return nil
}

// bucketOf returns the bucket file was stored in, falling back to the
// selection for records written without one.
func (s *MediaService) bucketOf(file types.MediaFile) *storage.Bucket {
	if file.Bucket != "" {
		return s.storage.Bucket(file.Bucket)
	}
	return s.storage.Bucket(s.storage.SelectedBucket())
}

func (s *MediaService) publish(ctx context.Context, eventType string, file types.MediaFile) {
	if s.events == nil {
		return
	}
	err := s.events.PublishEvent(ctx, mq.MediaEvent{
		Type:   eventType,
		ID:     file.ID,
		Name:   file.Name,
		Path:   file.Path,
		Size:   file.Size,
		Bucket: file.Bucket,
	})
	metrics.RecordEventPublished(eventType, err)
	if err != nil {
		logging.L().Warn("failed to publish media event",
			zap.String("type", eventType),
			zap.String("path", file.Path),
			zap.Error(err))
	}
}

func normalizeContentType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return strings.ToLower(value)
	}
	return mediaType
}

func storedKey(location, name, contentType string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(name))
	base := slug.Make(strings.TrimSuffix(name, filepath.Ext(name)))
	if base == "" {
		base = "file"
	}
	if ext == "" {
		if m := mimetype.Lookup(contentType); m != nil {
			ext = m.Extension()
		}
	}
	return path.Join(strings.Trim(location, "/ "), base+ext)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
