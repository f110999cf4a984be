package datastore

import (
	"math"
	"time"
)

// Record is a single tree observation.
type Record struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Latitude           float64   `json:"latitude" gorm:"not null;index:idx_records_position,priority:1"`
	Longitude          float64   `json:"longitude" gorm:"not null;index:idx_records_position,priority:2"`
	HorizontalAccuracy float64   `json:"horizontalAccuracy" gorm:"not null;default:0"`
	Altitude           *float64  `json:"altitude,omitempty"`
	Species            string    `json:"species" gorm:"type:varchar(255);index"`
	Variety            *string   `json:"variety,omitempty" gorm:"type:varchar(255)"`
	Rootstock          *string   `json:"rootstock,omitempty" gorm:"type:varchar(255)"`
	GroupID            *string   `json:"groupId,omitempty" gorm:"type:varchar(36);index"`
	Photos             []Photo   `json:"photos,omitempty" gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE"`
	Notes              []Note    `json:"notes,omitempty" gorm:"foreignKey:RecordID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// TableName overrides the default table name
func (Record) TableName() string { return "records" }

// Group is a named collection of records. Deleting a group leaves its
// members in place with GroupID cleared.
type Group struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Records   []Record  `json:"records,omitempty" gorm:"foreignKey:GroupID;constraint:OnDelete:SET NULL"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName overrides the default table name; "groups" is reserved in MySQL.
func (Group) TableName() string { return "record_groups" }

// GroupSummary is a group with its member count.
type GroupSummary struct {
	Group
	RecordCount int64 `json:"recordCount"`
}

// Note is a dated free-text observation attached to a record.
type Note struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	RecordID  string    `json:"recordId" gorm:"type:varchar(36);not null;index"`
	Text      string    `json:"text" gorm:"type:text"`
	Photos    []Photo   `json:"photos,omitempty" gorm:"foreignKey:NoteID"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName overrides the default table name
func (Note) TableName() string { return "record_notes" }

// Photo describes a photo blob. The bytes live in the photo store under BlobKey.
// NoteID is set for photos attached to a note rather than the record itself.
type Photo struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	RecordID    string    `json:"recordId" gorm:"type:varchar(36);not null;index"`
	NoteID      *uint     `json:"noteId,omitempty" gorm:"index"`
	BlobKey     string    `json:"blobKey" gorm:"type:varchar(512);not null"`
	ContentType string    `json:"contentType" gorm:"type:varchar(100)"`
	Size        int64     `json:"size"`
	TakenAt     time.Time `json:"takenAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName overrides the default table name
func (Photo) TableName() string { return "record_photos" }

// RecordEdit is a staged edit. Nil fields are left untouched; the Clear
// flags remove optional values. The edit is applied in one transaction.
type RecordEdit struct {
	Latitude           *float64 `json:"latitude,omitempty"`
	Longitude          *float64 `json:"longitude,omitempty"`
	HorizontalAccuracy *float64 `json:"horizontalAccuracy,omitempty"`
	Altitude           *float64 `json:"altitude,omitempty"`
	ClearAltitude      bool     `json:"clearAltitude,omitempty"`
	Species            *string  `json:"species,omitempty"`
	Variety            *string  `json:"variety,omitempty"`
	ClearVariety       bool     `json:"clearVariety,omitempty"`
	Rootstock          *string  `json:"rootstock,omitempty"`
	ClearRootstock     bool     `json:"clearRootstock,omitempty"`
	GroupID            *string  `json:"groupId,omitempty"`
	ClearGroup         bool     `json:"clearGroup,omitempty"`
	AddNotes           []string `json:"addNotes,omitempty"`
}

// IsEmpty reports whether the edit changes nothing.
func (e *RecordEdit) IsEmpty() bool {
	return e.Latitude == nil && e.Longitude == nil && e.HorizontalAccuracy == nil &&
		e.Altitude == nil && !e.ClearAltitude &&
		e.Species == nil &&
		e.Variety == nil && !e.ClearVariety &&
		e.Rootstock == nil && !e.ClearRootstock &&
		e.GroupID == nil && !e.ClearGroup &&
		len(e.AddNotes) == 0
}

// RecordFilter narrows ListRecords. Zero values mean no constraint.
type RecordFilter struct {
	GroupID   *string
	Ungrouped bool
	Species   string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
	// WithAttachments preloads notes and photos
	WithAttachments bool
}

// ImportBatch is everything one import commits in a single transaction.
type ImportBatch struct {
	Groups  []*Group
	Records []*Record
}

// ValidatePosition checks coordinate ranges and accuracy.
func ValidatePosition(lat, lon, accuracy float64) error {
	switch {
	case math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90:
		return validationError("latitude must be within [-90, 90]", "latitude", lat)
	case math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180:
		return validationError("longitude must be within [-180, 180]", "longitude", lon)
	case math.IsNaN(accuracy) || math.IsInf(accuracy, 0) || accuracy < 0:
		return validationError("horizontal accuracy must be non-negative", "horizontalAccuracy", accuracy)
	}
	return nil
}

// BlobKeys returns the blob keys of every photo owned by the record,
// including photos attached to its notes.
func (r *Record) BlobKeys() []string {
	keys := make([]string, 0, len(r.Photos))
	for i := range r.Photos {
		keys = append(keys, r.Photos[i].BlobKey)
	}
	for i := range r.Notes {
		for j := range r.Notes[i].Photos {
			keys = append(keys, r.Notes[i].Photos[j].BlobKey)
		}
	}
	return keys
}
