package photostore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
)

// Filesystem stores blobs as files under a root directory. Keys map to
// relative paths.
type Filesystem struct {
	root string
	log  logger.Logger
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(root string, log logger.Logger) (*Filesystem, error) {
	if root == "" {
		root = "photos"
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, storeError(err, DriverFilesystem, "init", root)
	}
	return &Filesystem{root: root, log: log}, nil
}

func (s *Filesystem) Driver() Driver { return DriverFilesystem }

func (s *Filesystem) pathFor(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes through a temp file in the target directory and renames it
// into place, so readers never see a partial blob.
func (s *Filesystem) Put(_ context.Context, key string, data []byte, _ string) error {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(dataPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return storeError(err, DriverFilesystem, "put", key)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return storeError(err, DriverFilesystem, "put", key)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return storeError(err, DriverFilesystem, "put", key)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return storeError(err, DriverFilesystem, "put", key)
	}
	if err := tmp.Close(); err != nil {
		return storeError(err, DriverFilesystem, "put", key)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return storeError(err, DriverFilesystem, "put", key)
	}

	s.log.Trace("photo written", logger.String("key", key), logger.Int("bytes", len(data)))
	return nil
}

func (s *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, storeError(err, DriverFilesystem, "get", key)
	}
	return data, nil
}

func (s *Filesystem) Delete(_ context.Context, key string) error {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storeError(err, DriverFilesystem, "delete", key)
	}
	return nil
}

func (s *Filesystem) Exists(_ context.Context, key string) (bool, error) {
	dataPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(dataPath)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, storeError(err, DriverFilesystem, "exists", key)
	}
}
