// Package export writes stored records in the three interchange formats.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/interchange"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/photostore"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatGPX  = "gpx"
)

// ErrUnknownFormat is returned for a format other than json, csv or gpx.
var ErrUnknownFormat = errors.NewStd("unknown export format")

// Options selects what is exported.
type Options struct {
	Format string
	// IncludePhotos embeds photos as base64. Only the JSON format carries them.
	IncludePhotos bool
	Filter        datastore.RecordFilter
}

// Result describes a finished export.
type Result struct {
	Format  string `json:"format"`
	Records int    `json:"records"`
	Path    string `json:"path,omitempty"`
	Bytes   int64  `json:"bytes"`
}

// Exporter reads records from the store and serializes them.
type Exporter struct {
	store  datastore.Interface
	photos photostore.Store
	log    logger.Logger
	now    func() time.Time
}

// New creates an Exporter. photos may be nil when photo export is never
// requested.
func New(store datastore.Interface, photos photostore.Store, log logger.Logger) *Exporter {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	return &Exporter{store: store, photos: photos, log: log.Module("export"), now: time.Now}
}

// ParseFormat normalizes a format name.
func ParseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV, FormatGPX:
		return f, nil
	default:
		return "", errors.New(ErrUnknownFormat).
			Component("export").
			Category(errors.CategoryValidation).
			Context("format", s).
			Build()
	}
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatGPX:
		return "application/gpx+xml"
	default:
		return "application/json"
	}
}

// FileName returns the artifact name for an export taken at t.
func FileName(format string, t time.Time) string {
	return fmt.Sprintf("treetrack-%s.%s", t.UTC().Format("20060102-150405"), format)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write serializes the selected records to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, opts Options) (*Result, error) {
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	filter := opts.Filter
	filter.WithAttachments = true
	records, err := e.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}

	summaries, err := e.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]datastore.Group, len(summaries))
	for i := range summaries {
		groups[i] = summaries[i].Group
	}

	includePhotos := opts.IncludePhotos && format == FormatJSON
	build := interchange.BuildOptions{IncludePhotos: includePhotos}
	if includePhotos {
		build.Photos = e.photos
	}
	doc, err := interchange.FromRecords(ctx, records, groups, build)
	if err != nil {
		return nil, err
	}

	cw := &countingWriter{w: w}
	switch format {
	case FormatCSV:
		err = interchange.WriteCSV(cw, doc.Records)
	case FormatGPX:
		err = interchange.WriteGPX(cw, doc.Records, "treetrack")
	default:
		err = interchange.EncodeJSON(cw, doc)
	}
	if err != nil {
		return nil, err
	}

	e.log.Info("export written",
		logger.String("format", format),
		logger.Int("records", len(doc.Records)),
		logger.Bool("photos", includePhotos),
		logger.Int64("bytes", cw.n))

	return &Result{Format: format, Records: len(doc.Records), Bytes: cw.n}, nil
}

// WriteFile exports into dir under FileName. The file appears only once it
// is complete.
func (e *Exporter) WriteFile(ctx context.Context, dir string, opts Options) (*Result, error) {
	format, err := ParseFormat(opts.Format)
	if err != nil {
		return nil, err
	}
	opts.Format = format

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fileError(err, dir)
	}
	final := filepath.Join(dir, FileName(format, e.now()))

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return nil, fileError(err, dir)
	}
	defer os.Remove(tmp.Name())

	result, err := e.Write(ctx, tmp, opts)
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fileError(err, final)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fileError(err, final)
	}
	result.Path = final
	return result, nil
}

func fileError(err error, path string) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}
