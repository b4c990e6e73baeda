package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient wraps the MinIO SDK client for any S3-compatible service.
type MinioClient struct {
	client *minio.Client
	region string
}

// NewMinioClient constructs an S3-compatible client from config.
func NewMinioClient(cfg S3Config) (*MinioClient, error) {
	if strings.TrimSpace(cfg.AccessKeyID) == "" || strings.TrimSpace(cfg.SecretAccessKey) == "" {
		return nil, fmt.Errorf("%w: s3 access key id and secret access key are required", ErrConfiguration)
	}

	endpoint, secure, err := parseS3Endpoint(cfg.Endpoint, cfg.sslEnabled())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultS3Region
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: region,
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client, err := minio.New(endpoint, opts)
	if err != nil {
		return nil, backendError(KindS3, "create client", err)
	}
	if cfg.UseDualstack {
		client.SetS3EnableDualstack(true)
	}

	return &MinioClient{
		client: client,
		region: region,
	}, nil
}

func parseS3Endpoint(raw string, sslEnabled bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultS3Endpoint, sslEnabled, nil
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(raw, "/"), sslEnabled, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid s3 endpoint %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid s3 endpoint %q", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("unsupported s3 endpoint scheme %q", u.Scheme)
	}
}

// Kind reports KindS3.
func (m *MinioClient) Kind() Kind {
	return KindS3
}

// Close is a no-op; the SDK client holds no long-lived resources.
func (m *MinioClient) Close() error {
	return nil
}

// CreateBucket ensures the bucket exists.
func (m *MinioClient) CreateBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return backendError(KindS3, "bucket exists", err)
	}
	if exists {
		return nil
	}
	err = m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return backendError(KindS3, "make bucket", err)
	}
	return nil
}

// DeleteBucket empties the bucket and removes it.
func (m *MinioClient) DeleteBucket(ctx context.Context, bucket string) error {
	if err := m.ClearBucket(ctx, bucket); err != nil {
		return err
	}
	if err := m.client.RemoveBucket(ctx, bucket); err != nil {
		return m.translate("remove bucket", bucket, "", err)
	}
	return nil
}

// ClearBucket streams every object key into a bulk delete.
func (m *MinioClient) ClearBucket(ctx context.Context, bucket string) error {
	if err := m.requireBucket(ctx, bucket); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := make(chan minio.ObjectInfo)
	listed := make(chan struct{})
	var listErr error
	go func() {
		defer close(listed)
		defer close(objects)
		for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				listErr = obj.Err
				return
			}
			select {
			case objects <- obj:
			case <-ctx.Done():
				return
			}
		}
	}()

	var removeErr error
	for result := range m.client.RemoveObjects(ctx, bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil && removeErr == nil {
			removeErr = fmt.Errorf("%s: %w", result.ObjectName, result.Err)
			cancel()
		}
	}
	cancel()
	<-listed

	if removeErr != nil {
		return backendError(KindS3, "remove objects", removeErr)
	}
	if listErr != nil {
		return m.translate("list objects", bucket, "", listErr)
	}
	return nil
}

// ListBuckets returns every bucket owned by the credentials.
func (m *MinioClient) ListBuckets(ctx context.Context) ([]string, error) {
	infos, err := m.client.ListBuckets(ctx)
	if err != nil {
		return nil, backendError(KindS3, "list buckets", err)
	}
	buckets := make([]string, 0, len(infos))
	for _, info := range infos {
		buckets = append(buckets, info.Name)
	}
	return buckets, nil
}

// PutObject uploads an object to the bucket.
func (m *MinioClient) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	_, err := m.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentTypeOf(key),
	})
	if err != nil {
		return m.translate("put object", bucket, "", err)
	}
	return nil
}

// PutFile uploads a local file to the bucket.
func (m *MinioClient) PutFile(ctx context.Context, bucket, key, srcPath string) error {
	_, err := m.client.FPutObject(ctx, bucket, key, srcPath, minio.PutObjectOptions{
		ContentType: contentTypeOf(key),
	})
	if err != nil {
		return m.translate("put file", bucket, "", err)
	}
	return nil
}

// GetObject opens a reader for a byte range of an object. The object is
// stat'ed first because the SDK defers request errors to the first read.
func (m *MinioClient) GetObject(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	size, err := m.StatObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	empty, err := checkRange(size, offset, length)
	if err != nil {
		return nil, backendError(KindS3, "read range", err)
	}
	if empty {
		return emptyReadCloser(), nil
	}

	opts := minio.GetObjectOptions{}
	if offset > 0 || length > 0 {
		if err := opts.SetRange(offset, rangeEnd(size, offset, length)); err != nil {
			return nil, backendError(KindS3, "read range", err)
		}
	}
	obj, err := m.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, m.translate("get object", bucket, key, err)
	}
	return obj, nil
}

// RemoveObject removes an object; S3 deletes are idempotent.
func (m *MinioClient) RemoveObject(ctx context.Context, bucket, key string) error {
	err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil
		}
		return backendError(KindS3, "remove object", err)
	}
	return nil
}

// ListObjects returns every object in the bucket.
func (m *MinioClient) ListObjects(ctx context.Context, bucket string) ([]FileEntry, error) {
	files := []FileEntry{}
	for obj := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, m.translate("list objects", bucket, "", obj.Err)
		}
		files = append(files, FileEntry{Path: obj.Key, Size: obj.Size})
	}
	return files, nil
}

// StatObject returns the size of an object.
func (m *MinioClient) StatObject(ctx context.Context, bucket, key string) (int64, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, m.translate("stat object", bucket, key, err)
	}
	return info.Size, nil
}

func (m *MinioClient) requireBucket(ctx context.Context, bucket string) error {
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return backendError(KindS3, "bucket exists", err)
	}
	if !exists {
		return notFound(bucket, "")
	}
	return nil
}

func (m *MinioClient) translate(op, bucket, key string, err error) error {
	if isMinioNotFound(err) {
		if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
			return notFound(bucket, "")
		}
		return notFound(bucket, key)
	}
	return backendError(KindS3, op, err)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}

func contentTypeOf(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
