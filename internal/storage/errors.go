package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when no adapter matches the supplied configuration.
	ErrConfiguration = errors.New("not a supported configuration")

	// ErrNoBucketSelected is returned by bucket-scoped operations when no bucket
	// was supplied and none is selected.
	ErrNoBucketSelected = errors.New("no bucket selected")

	// ErrNotFound is returned when a bucket or file key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRange is returned when a byte range starts past the end of a file.
	ErrInvalidRange = errors.New("invalid byte range")

	// ErrInvalidKey is returned for empty keys or keys escaping their bucket.
	ErrInvalidKey = errors.New("invalid file key")
)

// BackendError wraps a failure reported by a storage provider.
type BackendError struct {
	Provider Kind
	Op       string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendError(provider Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Provider: provider, Op: op, Err: err}
}

func notFound(bucket, key string) error {
	if key == "" {
		return fmt.Errorf("bucket %q: %w", bucket, ErrNotFound)
	}
	return fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
}
