package interchange

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/philipwilson/trees/internal/errors"
)

// CSVHeader is the fixed column order of the row format.
var CSVHeader = []string{
	"id", "latitude", "longitude", "horizontalAccuracy", "altitude",
	"species", "variety", "rootstock", "notes", "photoCount",
	"collectionId", "createdAt", "updatedAt",
}

// WriteCSV writes one row per record after the header. Quoting of
// delimiters, quotes and newlines is handled by encoding/csv.
func WriteCSV(w io.Writer, records []RecordDoc) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return exportError(err, "csv")
	}
	for i := range records {
		r := &records[i]
		row := []string{
			r.ID,
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			formatFloat(r.HorizontalAccuracy),
			formatOptFloat(r.Altitude),
			r.Species,
			deref(r.Variety),
			deref(r.Rootstock),
			r.Notes,
			strconv.Itoa(r.PhotoCount),
			deref(r.CollectionID),
			formatTime(r.CreatedAt),
			formatTime(r.UpdatedAt),
		}
		if err := cw.Write(row); err != nil {
			return exportError(err, "csv")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return exportError(err, "csv")
	}
	return nil
}

// ReadCSV parses the row format. Columns are located by header name, so
// reordered or extra columns are tolerated; latitude and longitude are
// required.
func ReadCSV(r io.Reader) ([]RecordDoc, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, parseError(fmt.Errorf("reading csv header: %w", err), "csv", 1)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"latitude", "longitude"} {
		if _, ok := cols[required]; !ok {
			return nil, parseError(fmt.Errorf("missing %q column", required), "csv", 1)
		}
	}

	var out []RecordDoc
	line := 1
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, parseError(err, "csv", line)
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(row) {
				return row[i]
			}
			return ""
		}

		var rec RecordDoc
		if rec.Latitude, err = strconv.ParseFloat(get("latitude"), 64); err != nil {
			return nil, parseError(fmt.Errorf("latitude: %w", err), "csv", line)
		}
		if rec.Longitude, err = strconv.ParseFloat(get("longitude"), 64); err != nil {
			return nil, parseError(fmt.Errorf("longitude: %w", err), "csv", line)
		}
		if v := get("horizontalAccuracy"); v != "" {
			if rec.HorizontalAccuracy, err = strconv.ParseFloat(v, 64); err != nil {
				return nil, parseError(fmt.Errorf("horizontalAccuracy: %w", err), "csv", line)
			}
		}
		if v := get("altitude"); v != "" {
			alt, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, parseError(fmt.Errorf("altitude: %w", err), "csv", line)
			}
			rec.Altitude = &alt
		}
		if v := get("photoCount"); v != "" {
			rec.PhotoCount, _ = strconv.Atoi(v)
		}
		rec.ID = get("id")
		rec.Species = get("species")
		rec.Variety = optional(get("variety"))
		rec.Rootstock = optional(get("rootstock"))
		rec.Notes = get("notes")
		rec.CollectionID = optional(get("collectionId"))
		rec.CreatedAt = parseTime(get("createdAt"))
		rec.UpdatedAt = parseTime(get("updatedAt"))
		out = append(out, rec)
	}
	return out, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatOptFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func exportError(err error, format string) error {
	return errors.New(err).
		Component("interchange").
		Category(errors.CategoryExport).
		Context("format", format).
		Build()
}

func parseError(err error, format string, line int) error {
	return errors.New(err).
		Component("interchange").
		Category(errors.CategoryFileParsing).
		Context("format", format).
		Context("line", line).
		Build()
}
