package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/photostore"
)

// maxPhotoBytes caps a single uploaded photo.
const maxPhotoBytes = 32 << 20

func (c *Controller) initRecordRoutes() {
	c.Group.GET("/records", c.ListRecords)
	c.Group.POST("/records", c.CreateRecord)
	c.Group.GET("/records/:id", c.GetRecord)
	c.Group.PATCH("/records/:id", c.EditRecord)
	c.Group.DELETE("/records/:id", c.DeleteRecord)
	c.Group.POST("/records/:id/notes", c.AddNote)
	c.Group.POST("/records/:id/photos", c.UploadPhoto)
	c.Group.GET("/records/:id/photos/:photoId", c.GetPhoto)
	c.Group.PUT("/records/:id/group", c.AssignGroup)
}

// CreateRecordRequest is the body of POST /api/v1/records.
type CreateRecordRequest struct {
	ID                 string     `json:"id"`
	Latitude           *float64   `json:"latitude"`
	Longitude          *float64   `json:"longitude"`
	HorizontalAccuracy float64    `json:"horizontalAccuracy"`
	Altitude           *float64   `json:"altitude"`
	Species            string     `json:"species"`
	Variety            *string    `json:"variety"`
	Rootstock          *string    `json:"rootstock"`
	GroupID            *string    `json:"groupId"`
	Note               string     `json:"note"`
	CreatedAt          *time.Time `json:"createdAt"`
}

// NoteRequest is the body of POST /api/v1/records/:id/notes.
type NoteRequest struct {
	Text string `json:"text"`
}

// AssignGroupRequest is the body of PUT /api/v1/records/:id/group.
// A null groupId removes the record from its group.
type AssignGroupRequest struct {
	GroupID *string `json:"groupId"`
}

// ListRecords returns records matching the query filters, oldest first.
func (c *Controller) ListRecords(ctx echo.Context) error {
	filter, err := c.parseRecordFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid filter", http.StatusBadRequest)
	}
	filter.WithAttachments, _ = strconv.ParseBool(ctx.QueryParam("attachments"))

	records, err := c.deps.Store.ListRecords(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to list records")
	}
	if records == nil {
		records = []datastore.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetRecord returns one record with its notes and photo metadata.
func (c *Controller) GetRecord(ctx echo.Context) error {
	record, err := c.deps.Store.GetRecord(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleStoreError(ctx, err, "Record not found")
	}
	return ctx.JSON(http.StatusOK, record)
}

// CreateRecord stores a record captured on this device.
func (c *Controller) CreateRecord(ctx echo.Context) error {
	req := &CreateRecordRequest{}
	if err := ctx.Bind(req); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}
	if req.Latitude == nil || req.Longitude == nil {
		return c.HandleError(ctx, nil, "latitude and longitude are required", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	id := strings.TrimSpace(req.ID)
	if id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			return c.HandleError(ctx, err, "id must be a UUID", http.StatusBadRequest)
		}
		id = parsed.String()
		exists, err := c.deps.Store.RecordExists(reqCtx, id)
		if err != nil {
			return c.HandleStoreError(ctx, err, "Failed to check record id")
		}
		if exists {
			return c.HandleError(ctx, nil, "A record with this id already exists", http.StatusConflict)
		}
	}

	record := &datastore.Record{
		ID:                 id,
		Latitude:           *req.Latitude,
		Longitude:          *req.Longitude,
		HorizontalAccuracy: req.HorizontalAccuracy,
		Altitude:           req.Altitude,
		Species:            strings.TrimSpace(req.Species),
		Variety:            nonEmpty(req.Variety),
		Rootstock:          nonEmpty(req.Rootstock),
		GroupID:            nonEmpty(req.GroupID),
		CreatedAt:          c.now().UTC(),
	}
	if req.CreatedAt != nil && !req.CreatedAt.IsZero() {
		record.CreatedAt = req.CreatedAt.UTC()
	}
	if text := strings.TrimSpace(req.Note); text != "" {
		record.Notes = []datastore.Note{{Text: text, CreatedAt: record.CreatedAt}}
	}

	if err := c.deps.Store.CreateRecord(reqCtx, record); err != nil {
		return c.HandleStoreError(ctx, err, "Failed to create record")
	}
	return ctx.JSON(http.StatusCreated, record)
}

// EditRecord applies a staged edit in one transaction.
func (c *Controller) EditRecord(ctx echo.Context) error {
	edit := datastore.RecordEdit{}
	if err := ctx.Bind(&edit); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}
	if edit.IsEmpty() {
		return c.HandleError(ctx, nil, "Edit changes nothing", http.StatusBadRequest)
	}

	record, err := c.deps.Store.UpdateRecord(ctx.Request().Context(), ctx.Param("id"), edit)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to update record")
	}
	return ctx.JSON(http.StatusOK, record)
}

// DeleteRecord removes a record with its notes and photos.
func (c *Controller) DeleteRecord(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	exists, err := c.deps.Store.RecordExists(reqCtx, id)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to look up record")
	}
	if !exists {
		return c.HandleError(ctx, nil, "Record not found", http.StatusNotFound)
	}

	keys, err := c.deps.Store.DeleteRecords(reqCtx, []string{id})
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to delete record")
	}
	c.deleteBlobs(ctx, keys)
	return ctx.NoContent(http.StatusNoContent)
}

// deleteBlobs removes photo bytes after their rows are gone. Failures
// leave orphaned blobs, which are logged but do not fail the request.
func (c *Controller) deleteBlobs(ctx echo.Context, keys []string) {
	if len(keys) == 0 || c.deps.Photos == nil {
		return
	}
	if err := photostore.DeleteAll(ctx.Request().Context(), c.deps.Photos, keys); err != nil {
		c.log.Warn("failed to remove photo blobs",
			logger.Int("count", len(keys)),
			logger.Error(err))
	}
}

// AddNote attaches a dated note to a record.
func (c *Controller) AddNote(ctx echo.Context) error {
	req := &NoteRequest{}
	if err := ctx.Bind(req); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}

	note, err := c.deps.Store.AddNote(ctx.Request().Context(), ctx.Param("id"), strings.TrimSpace(req.Text))
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to add note")
	}
	return ctx.JSON(http.StatusCreated, note)
}

// UploadPhoto stores a photo for a record. The photo is sent either as
// the multipart field "photo" or as the raw request body. The optional
// query parameter noteId attaches it to one of the record's notes.
func (c *Controller) UploadPhoto(ctx echo.Context) error {
	if c.deps.Photos == nil {
		return c.HandleError(ctx, nil, "Photo storage is not configured", http.StatusServiceUnavailable)
	}

	recordID := ctx.Param("id")
	data, err := readUpload(ctx, "photo", maxPhotoBytes)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read photo", http.StatusBadRequest)
	}
	if len(data) == 0 {
		return c.HandleError(ctx, nil, "Photo is empty", http.StatusBadRequest)
	}

	photo := &datastore.Photo{
		RecordID:    recordID,
		ContentType: photostore.DetectContentType(data),
		Size:        int64(len(data)),
		TakenAt:     c.now().UTC(),
	}
	if raw := ctx.QueryParam("noteId"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.HandleError(ctx, queryError("noteId", raw), "Invalid note id", http.StatusBadRequest)
		}
		noteID := uint(n)
		photo.NoteID = &noteID
	}
	photo.BlobKey = photostore.NewKey(recordID, photo.ContentType)

	reqCtx := ctx.Request().Context()
	if err := c.deps.Photos.Put(reqCtx, photo.BlobKey, data, photo.ContentType); err != nil {
		return c.HandleError(ctx, err, "Failed to store photo", http.StatusInternalServerError)
	}
	if err := c.deps.Store.AddPhoto(reqCtx, photo); err != nil {
		c.deleteBlobs(ctx, []string{photo.BlobKey})
		return c.HandleStoreError(ctx, err, "Failed to attach photo")
	}
	return ctx.JSON(http.StatusCreated, photo)
}

// GetPhoto streams a photo's bytes.
func (c *Controller) GetPhoto(ctx echo.Context) error {
	if c.deps.Photos == nil {
		return c.HandleError(ctx, nil, "Photo storage is not configured", http.StatusServiceUnavailable)
	}

	record, err := c.deps.Store.GetRecord(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleStoreError(ctx, err, "Record not found")
	}
	photoID, err := strconv.ParseUint(ctx.Param("photoId"), 10, 64)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid photo id", http.StatusBadRequest)
	}

	photo := findPhoto(record, uint(photoID))
	if photo == nil {
		return c.HandleError(ctx, nil, "Photo not found", http.StatusNotFound)
	}
	data, err := c.deps.Photos.Get(ctx.Request().Context(), photo.BlobKey)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to read photo")
	}
	contentType := photo.ContentType
	if contentType == "" {
		contentType = photostore.DetectContentType(data)
	}
	return ctx.Blob(http.StatusOK, contentType, data)
}

func findPhoto(record *datastore.Record, id uint) *datastore.Photo {
	for i := range record.Photos {
		if record.Photos[i].ID == id {
			return &record.Photos[i]
		}
	}
	for i := range record.Notes {
		for j := range record.Notes[i].Photos {
			if record.Notes[i].Photos[j].ID == id {
				return &record.Notes[i].Photos[j]
			}
		}
	}
	return nil
}

// AssignGroup moves a record into a group or out of any group.
func (c *Controller) AssignGroup(ctx echo.Context) error {
	req := &AssignGroupRequest{}
	if err := ctx.Bind(req); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")
	if err := c.deps.Store.AssignGroup(reqCtx, id, nonEmpty(req.GroupID)); err != nil {
		return c.HandleStoreError(ctx, err, "Failed to assign group")
	}
	record, err := c.deps.Store.GetRecord(reqCtx, id)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Record not found")
	}
	return ctx.JSON(http.StatusOK, record)
}

// readUpload returns the multipart file field, or the raw body when the
// request is not multipart.
func readUpload(ctx echo.Context, field string, limit int64) ([]byte, error) {
	var src io.Reader = ctx.Request().Body
	if strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := ctx.FormFile(field)
		if err != nil {
			return nil, err
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	}
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.Newf("%s exceeds %d bytes", field, limit).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return data, nil
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
