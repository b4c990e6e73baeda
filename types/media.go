package types

import "time"

// MediaFile is the metadata record of a file held in object storage.
type MediaFile struct {
	// ID is the unique identifier of the record.
	ID int64 `json:"id" db:"id"`

	// Name is the file name the uploader supplied.
	Name string `json:"name" db:"name"`

	// Path is the key of the file inside its bucket. It is unique.
	Path string `json:"path" db:"path"`

	// Size is the stored size in bytes.
	Size int64 `json:"size" db:"size"`

	// ContentType is the MIME type recorded at upload time.
	ContentType string `json:"content_type" db:"content_type"`

	// Bucket is the bucket the file was written to.
	Bucket string `json:"bucket" db:"bucket"`

	// CreatedAt is the timestamp when the file was registered.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

