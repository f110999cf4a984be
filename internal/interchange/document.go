// Package interchange reads and writes the record exchange formats: the
// JSON document (grouped and legacy shapes), CSV rows and GPX waypoints.
package interchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/philipwilson/trees/internal/errors"
)

// NotesSeparator joins multiple notes into the single notes field.
const NotesSeparator = " | "

// ErrMalformedDocument is returned when a document matches neither shape.
var ErrMalformedDocument = errors.NewStd("malformed interchange document")

// Shape identifies which JSON layout a document used.
type Shape int

const (
	// ShapeGrouped is {"groups": [...], "records": [...]}.
	ShapeGrouped Shape = iota
	// ShapeLegacy is a bare array of records.
	ShapeLegacy
)

func (s Shape) String() string {
	switch s {
	case ShapeGrouped:
		return "grouped"
	case ShapeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// GroupDoc is a group as it appears in a document. ID is local to the
// document and never matched against stored groups.
type GroupDoc struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordDoc is one record in a document.
type RecordDoc struct {
	ID                 string      `json:"id,omitempty"`
	Latitude           float64     `json:"latitude"`
	Longitude          float64     `json:"longitude"`
	HorizontalAccuracy float64     `json:"horizontalAccuracy"`
	Altitude           *float64    `json:"altitude,omitempty"`
	Species            string      `json:"species"`
	Variety            *string     `json:"variety,omitempty"`
	Rootstock          *string     `json:"rootstock,omitempty"`
	Notes              string      `json:"notes"`
	PhotoCount         int         `json:"photoCount"`
	Photos             []string    `json:"photos,omitempty"`
	PhotoDates         []time.Time `json:"photoDates,omitempty"`
	CollectionID       *string     `json:"collectionId,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// UnmarshalJSON accepts "groupId" as an alias for "collectionId".
func (r *RecordDoc) UnmarshalJSON(data []byte) error {
	type plain RecordDoc
	aux := struct {
		*plain
		GroupID *string `json:"groupId,omitempty"`
	}{plain: (*plain)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.CollectionID == nil && aux.GroupID != nil {
		r.CollectionID = aux.GroupID
	}
	return nil
}

// Document is a parsed interchange file.
type Document struct {
	Groups  []GroupDoc  `json:"groups"`
	Records []RecordDoc `json:"records"`
}

// Parse decodes data as the grouped shape first and falls back to the
// legacy bare array. It fails only when neither shape decodes.
func Parse(data []byte) (*Document, Shape, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if doc, err := parseGrouped(data); err == nil {
		return doc, ShapeGrouped, nil
	}

	var records []RecordDoc
	if err := json.Unmarshal(data, &records); err == nil && records != nil {
		return &Document{Records: records}, ShapeLegacy, nil
	}

	return nil, 0, errors.New(ErrMalformedDocument).
		Component("interchange").
		Category(errors.CategoryFileParsing).
		Context("bytes", len(data)).
		Build()
}

// parseGrouped requires a top-level object with a records array. The
// probe keeps an object without "records" from decoding as an empty
// grouped document.
func parseGrouped(data []byte) (*Document, error) {
	probe, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return nil, err
	}
	if _, err := probe.GetValueArray("records"); err != nil {
		return nil, fmt.Errorf("no records array: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseReader reads all of r and parses it.
func ParseReader(r io.Reader) (*Document, Shape, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, errors.New(err).
			Component("interchange").
			Category(errors.CategoryFileIO).
			Build()
	}
	return Parse(data)
}

// EncodeJSON writes doc in the grouped shape.
func EncodeJSON(w io.Writer, doc *Document) error {
	out := *doc
	if out.Groups == nil {
		out.Groups = []GroupDoc{}
	}
	if out.Records == nil {
		out.Records = []RecordDoc{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&out); err != nil {
		return errors.New(err).
			Component("interchange").
			Category(errors.CategoryExport).
			Context("format", "json").
			Build()
	}
	return nil
}
