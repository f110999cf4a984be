package interchange

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
)

// PhotoLoader fetches photo bytes by blob key.
type PhotoLoader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// BuildOptions controls FromRecords.
type BuildOptions struct {
	// IncludePhotos embeds record photos as base64 with parallel dates.
	IncludePhotos bool
	// Photos is required when IncludePhotos is set.
	Photos PhotoLoader
}

// FromRecords builds a grouped document from stored records. Records must
// be loaded with their attachments. Only groups that are referenced by at
// least one exported record are written.
func FromRecords(ctx context.Context, records []datastore.Record, groups []datastore.Group, opts BuildOptions) (*Document, error) {
	if opts.IncludePhotos && opts.Photos == nil {
		return nil, errors.Newf("photo export requested without a photo store").
			Component("interchange").
			Category(errors.CategoryExport).
			Build()
	}

	byID := make(map[string]datastore.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	doc := &Document{
		Groups:  []GroupDoc{},
		Records: make([]RecordDoc, 0, len(records)),
	}
	seen := make(map[string]bool)

	for i := range records {
		rec := &records[i]
		rd := RecordDoc{
			ID:                 rec.ID,
			Latitude:           rec.Latitude,
			Longitude:          rec.Longitude,
			HorizontalAccuracy: rec.HorizontalAccuracy,
			Altitude:           rec.Altitude,
			Species:            rec.Species,
			Variety:            rec.Variety,
			Rootstock:          rec.Rootstock,
			Notes:              JoinNotes(rec.Notes),
			PhotoCount:         len(rec.Photos),
			CreatedAt:          rec.CreatedAt.UTC(),
			UpdatedAt:          rec.UpdatedAt.UTC(),
		}

		if rec.GroupID != nil {
			if g, ok := byID[*rec.GroupID]; ok {
				gid := g.ID
				rd.CollectionID = &gid
				if !seen[g.ID] {
					seen[g.ID] = true
					doc.Groups = append(doc.Groups, GroupDoc{
						ID:        g.ID,
						Name:      g.Name,
						CreatedAt: g.CreatedAt.UTC(),
						UpdatedAt: g.UpdatedAt.UTC(),
					})
				}
			}
		}

		if opts.IncludePhotos {
			for _, p := range rec.Photos {
				data, err := opts.Photos.Get(ctx, p.BlobKey)
				if err != nil {
					return nil, errors.New(err).
						Component("interchange").
						Category(errors.CategoryExport).
						Context("record_id", rec.ID).
						Context("blob_key", p.BlobKey).
						Build()
				}
				rd.Photos = append(rd.Photos, base64.StdEncoding.EncodeToString(data))
				taken := p.TakenAt
				if taken.IsZero() {
					taken = p.CreatedAt
				}
				rd.PhotoDates = append(rd.PhotoDates, taken.UTC())
			}
		}

		doc.Records = append(doc.Records, rd)
	}
	return doc, nil
}

// JoinNotes concatenates note texts in order with NotesSeparator.
func JoinNotes(notes []datastore.Note) string {
	parts := make([]string, 0, len(notes))
	for _, n := range notes {
		if t := strings.TrimSpace(n.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, NotesSeparator)
}
