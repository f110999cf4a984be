// Package metrics provides Prometheus collectors for treetrack components.
package metrics

// Operation labels shared across collectors.
const (
	OpRecordCreate = "record_create"
	OpRecordGet    = "record_get"
	OpRecordList   = "record_list"
	OpRecordUpdate = "record_update"
	OpRecordDelete = "record_delete"
	OpGroupCreate  = "group_create"
	OpGroupUpdate  = "group_update"
	OpGroupDelete  = "group_delete"
	OpNoteCreate   = "note_create"
	OpPhotoCreate  = "photo_create"
	OpImportBatch  = "import_batch"
)

// Status labels
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket parameters
const (
	BucketStart1ms = 0.001
	BucketFactor2  = 2
	BucketCount15  = 15
)
