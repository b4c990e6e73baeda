package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSClient wraps the Google Cloud Storage SDK client and project ID.
type GCSClient struct {
	client    *storage.Client
	projectID string
}

// NewGCSClient constructs a GCS client from config.
func NewGCSClient(ctx context.Context, cfg GCSConfig) (*GCSClient, error) {
	if strings.TrimSpace(cfg.KeyFilename) == "" {
		return nil, fmt.Errorf("%w: gcs key file is required", ErrConfiguration)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsFile(cfg.KeyFilename))
	if err != nil {
		return nil, backendError(KindGCS, "create client", err)
	}

	return &GCSClient{
		client:    client,
		projectID: cfg.ProjectID,
	}, nil
}

// Kind reports KindGCS.
func (g *GCSClient) Kind() Kind {
	return KindGCS
}

// Close closes the underlying SDK client.
func (g *GCSClient) Close() error {
	return g.client.Close()
}

// CreateBucket ensures the bucket exists.
func (g *GCSClient) CreateBucket(ctx context.Context, bucket string) error {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return backendError(KindGCS, "bucket attrs", err)
	}
	if strings.TrimSpace(g.projectID) == "" {
		return backendError(KindGCS, "create bucket", errors.New("project id is required to create bucket"))
	}
	if err := g.client.Bucket(bucket).Create(ctx, g.projectID, nil); err != nil {
		if isGoogleStatus(err, http.StatusConflict) {
			return nil
		}
		return backendError(KindGCS, "create bucket", err)
	}
	return nil
}

// DeleteBucket empties the bucket and removes it.
func (g *GCSClient) DeleteBucket(ctx context.Context, bucket string) error {
	if err := g.ClearBucket(ctx, bucket); err != nil {
		return err
	}
	if err := g.client.Bucket(bucket).Delete(ctx); err != nil {
		return g.translate("delete bucket", bucket, "", err)
	}
	return nil
}

// ClearBucket deletes every object in the bucket.
func (g *GCSClient) ClearBucket(ctx context.Context, bucket string) error {
	handle := g.client.Bucket(bucket)
	it := handle.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return g.translate("list objects", bucket, "", err)
		}
		if err := handle.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return backendError(KindGCS, "delete object", err)
		}
	}
}

// ListBuckets returns every bucket in the project.
func (g *GCSClient) ListBuckets(ctx context.Context) ([]string, error) {
	buckets := []string{}
	it := g.client.Buckets(ctx, g.projectID)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return buckets, nil
		}
		if err != nil {
			return nil, backendError(KindGCS, "list buckets", err)
		}
		buckets = append(buckets, attrs.Name)
	}
}

// PutObject uploads an object. A failed copy cancels the writer's context so
// the partial upload is discarded instead of committed.
func (g *GCSClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, _ int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentTypeOf(key)
	if _, err := io.Copy(writer, r); err != nil {
		cancel()
		_ = writer.Close()
		return g.translate("put object", bucket, "", err)
	}
	if err := writer.Close(); err != nil {
		return g.translate("put object", bucket, "", err)
	}
	return nil
}

// PutFile uploads a local file.
func (g *GCSClient) PutFile(ctx context.Context, bucket, key, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return backendError(KindGCS, "open source file", err)
	}
	defer src.Close()

	return g.PutObject(ctx, bucket, key, src, -1)
}

// GetObject opens a range reader on an object.
func (g *GCSClient) GetObject(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	size, err := g.StatObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	empty, err := checkRange(size, offset, length)
	if err != nil {
		return nil, backendError(KindGCS, "read range", err)
	}
	if empty {
		return emptyReadCloser(), nil
	}

	if length < 0 {
		length = -1
	}
	reader, err := g.client.Bucket(bucket).Object(key).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, g.translate("get object", bucket, key, err)
	}
	return reader, nil
}

// RemoveObject deletes an object, ignoring missing objects and buckets.
func (g *GCSClient) RemoveObject(ctx context.Context, bucket, key string) error {
	err := g.client.Bucket(bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) && !errors.Is(err, storage.ErrBucketNotExist) {
		return backendError(KindGCS, "delete object", err)
	}
	return nil
}

// ListObjects returns every object in the bucket.
func (g *GCSClient) ListObjects(ctx context.Context, bucket string) ([]FileEntry, error) {
	files := []FileEntry{}
	it := g.client.Bucket(bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return files, nil
		}
		if err != nil {
			return nil, g.translate("list objects", bucket, "", err)
		}
		files = append(files, FileEntry{Path: attrs.Name, Size: attrs.Size})
	}
}

// StatObject returns the size of an object.
func (g *GCSClient) StatObject(ctx context.Context, bucket, key string) (int64, error) {
	attrs, err := g.client.Bucket(bucket).Object(key).Attrs(ctx)
	if err != nil {
		return 0, g.translate("object attrs", bucket, key, err)
	}
	return attrs.Size, nil
}

func (g *GCSClient) translate(op, bucket, key string, err error) error {
	switch {
	case errors.Is(err, storage.ErrBucketNotExist):
		return notFound(bucket, "")
	case errors.Is(err, storage.ErrObjectNotExist):
		return notFound(bucket, key)
	case isGoogleStatus(err, http.StatusNotFound):
		return notFound(bucket, key)
	}
	return backendError(KindGCS, op, err)
}

func isGoogleStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
