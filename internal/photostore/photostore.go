// Package photostore keeps photo bytes outside the record database.
// Records reference photos by blob key; the bytes live in one of the
// backends here (local filesystem, S3 or memory).
package photostore

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/philipwilson/trees/internal/conf"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
)

// Driver identifies a backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.NewStd("photo blob not found")

// Store is a flat key/value blob store for photo bytes.
type Store interface {
	// Put writes data under key, replacing any previous blob.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

// New builds the backend selected by settings.Photos.Driver.
func New(ctx context.Context, settings *conf.Settings, log logger.Logger) (Store, error) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	log = log.Module("photostore")

	switch Driver(settings.Photos.Driver) {
	case DriverFilesystem, "":
		return NewFilesystem(settings.Photos.Path, log)
	case DriverS3:
		return NewS3(ctx, &settings.Photos.S3, log)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, errors.Newf("unsupported photo driver %q", settings.Photos.Driver).
			Component("photostore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// DetectContentType sniffs the MIME type of photo bytes.
func DetectContentType(data []byte) string {
	return http.DetectContentType(data)
}

// NewKey returns a fresh blob key for a photo of recordID:
// records/<recordID>/<uuid><ext>.
func NewKey(recordID, contentType string) string {
	return path.Join("records", recordID, uuid.NewString()+extensionFor(contentType))
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// validateKey rejects keys that could escape a backend root.
func validateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return keyError(key, "empty key")
	case strings.HasPrefix(key, "/"):
		return keyError(key, "absolute key")
	case strings.Contains(key, ".."):
		return keyError(key, "key contains '..'")
	}
	return nil
}

func keyError(key, reason string) error {
	return errors.New(fmt.Errorf("invalid blob key: %s", reason)).
		Component("photostore").
		Category(errors.CategoryValidation).
		Context("key", key).
		Build()
}

func notFound(key string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrNotFound, key)).
		Component("photostore").
		Category(errors.CategoryNotFound).
		Context("key", key).
		Build()
}

func storeError(err error, driver Driver, operation, key string) error {
	return errors.New(err).
		Component("photostore").
		Category(errors.CategoryPhotoStore).
		Context("driver", string(driver)).
		Context("operation", operation).
		Context("key", key).
		Build()
}

// DeleteAll removes every key and returns the joined failures. Used to
// roll back blobs written for a batch whose commit failed.
func DeleteAll(ctx context.Context, store Store, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
