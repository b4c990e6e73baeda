package storage

import (
	"path"
	"strings"

	"github.com/gosimple/slug"
)

// Slugify normalizes a bucket name before it is used against a backend.
func Slugify(name string) string {
	return slug.Make(strings.TrimSpace(name))
}

// cleanKey normalizes a file key to a slash separated path relative to the
// bucket root.
func cleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), `\`, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
