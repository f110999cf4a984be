package publish

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/philipwilson/trees/internal/errors"
)

// LocalTarget copies exports into a directory, typically a mounted share.
type LocalTarget struct {
	dir string
}

// NewLocalTarget creates a LocalTarget writing to dir.
func NewLocalTarget(dir string) (*LocalTarget, error) {
	if dir == "" {
		return nil, configError("local", "path is required")
	}
	return &LocalTarget{dir: filepath.Clean(dir)}, nil
}

func (t *LocalTarget) Name() string { return "local" }

// Upload copies the file through a temp file so readers never see a partial
// export.
func (t *LocalTarget) Upload(ctx context.Context, localPath string) error {
	if err := os.MkdirAll(t.dir, 0o750); err != nil {
		return ioError("local", "mkdir", t.dir, err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return ioError("local", "open", localPath, err)
	}
	defer src.Close()

	final := filepath.Join(t.dir, filepath.Base(localPath))
	tmp, err := os.CreateTemp(t.dir, tempPrefix+"*")
	if err != nil {
		return ioError("local", "create_temp", t.dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: src}); err != nil {
		return ioError("local", "copy", final, err)
	}
	if err := tmp.Sync(); err != nil {
		return ioError("local", "sync", final, err)
	}
	if err := tmp.Close(); err != nil {
		return ioError("local", "close", final, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return ioError("local", "rename", final, err)
	}
	committed = true
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func configError(target, msg string) error {
	return errors.Newf("%s target: %s", target, msg).
		Component("publish").
		Category(errors.CategoryConfiguration).
		Context("target", target).
		Build()
}

func ioError(target, operation, path string, err error) error {
	return errors.New(err).
		Component("publish").
		Category(errors.CategoryFileIO).
		Context("target", target).
		Context("operation", operation).
		Context("path", path).
		Build()
}

func networkError(target, operation string, err error) error {
	return errors.New(err).
		Component("publish").
		Category(errors.CategoryNetwork).
		Context("target", target).
		Context("operation", operation).
		Build()
}
