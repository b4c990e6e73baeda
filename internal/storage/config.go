package storage

import (
	"fmt"
	"strings"
)

// Kind identifies a storage provider.
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindGCS   Kind = "gcs"
)

const (
	defaultS3Endpoint = "s3.amazonaws.com"
	defaultS3Region   = "us-east-1"
)

// Config selects and configures exactly one storage provider.
//
// Type is an explicit tag. When it is empty the provider is chosen by the
// presence of a distinguishing field, checked in order: Local.Directory,
// S3.AccessKeyID, GCS.KeyFilename.
type Config struct {
	Type       Kind
	BucketName string

	Local LocalConfig
	S3    S3Config
	GCS   GCSConfig
}

// LocalConfig configures the filesystem provider.
type LocalConfig struct {
	// Directory is the root under which every bucket is a subdirectory.
	Directory string
}

// S3Config configures the S3-compatible provider.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint is host[:port], optionally prefixed with http:// or https://.
	Endpoint     string
	Region       string
	UseDualstack bool
	MaxRetries   int
	// MaxRedirects is accepted but unused; the S3 client follows its own policy.
	MaxRedirects int

	// SSLEnabled defaults to true when nil.
	SSLEnabled *bool
}

// GCSConfig configures the Google Cloud Storage provider.
type GCSConfig struct {
	ProjectID   string
	KeyFilename string
}

// Resolve returns the provider kind the configuration selects.
func (c Config) Resolve() (Kind, error) {
	if c.Type != "" {
		kind := Kind(strings.ToLower(strings.TrimSpace(string(c.Type))))
		if !c.has(kind) {
			return "", fmt.Errorf("%w: type %q without its required fields", ErrConfiguration, c.Type)
		}
		return kind, nil
	}

	for _, kind := range []Kind{KindLocal, KindS3, KindGCS} {
		if c.has(kind) {
			return kind, nil
		}
	}
	return "", ErrConfiguration
}

func (c Config) has(kind Kind) bool {
	switch kind {
	case KindLocal:
		return strings.TrimSpace(c.Local.Directory) != ""
	case KindS3:
		return strings.TrimSpace(c.S3.AccessKeyID) != ""
	case KindGCS:
		return strings.TrimSpace(c.GCS.KeyFilename) != ""
	default:
		return false
	}
}

func (c S3Config) sslEnabled() bool {
	if c.SSLEnabled == nil {
		return true
	}
	return *c.SSLEnabled
}
