package api

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/export"
	"github.com/philipwilson/trees/internal/publish"
)

func (c *Controller) initExportRoutes() {
	c.Group.GET("/exports", c.Export)
	c.Group.POST("/exports/publish", c.PublishExport)
}

// PublishResponse reports an export pushed to the publish targets.
type PublishResponse struct {
	Export   *export.Result    `json:"export"`
	Outcomes []publish.Outcome `json:"outcomes"`
}

func (c *Controller) exportOptions(ctx echo.Context) (export.Options, error) {
	format, err := export.ParseFormat(ctx.QueryParam("format"))
	if err != nil {
		return export.Options{}, err
	}
	filter, err := c.parseRecordFilter(ctx)
	if err != nil {
		return export.Options{}, err
	}
	photos := false
	if raw := ctx.QueryParam("photos"); raw != "" {
		if photos, err = strconv.ParseBool(raw); err != nil {
			return export.Options{}, queryError("photos", raw)
		}
	}
	return export.Options{Format: format, IncludePhotos: photos, Filter: filter}, nil
}

// Export downloads the selected records as JSON, CSV or GPX.
func (c *Controller) Export(ctx echo.Context) error {
	opts, err := c.exportOptions(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid export parameters", http.StatusBadRequest)
	}

	// Buffered so a failure can still be reported as an error response.
	var buf bytes.Buffer
	if _, err := c.exporter.Write(ctx.Request().Context(), &buf, opts); err != nil {
		return c.HandleStoreError(ctx, err, "Export failed")
	}

	name := export.FileName(opts.Format, c.now())
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return ctx.Blob(http.StatusOK, export.ContentType(opts.Format), buf.Bytes())
}

// PublishExport writes an export and uploads it to every configured target.
// Partial failures answer 502 with the per-target outcomes.
func (c *Controller) PublishExport(ctx echo.Context) error {
	if c.deps.Publisher == nil || len(c.deps.Publisher.Targets()) == 0 {
		return c.HandleError(ctx, nil, "No publish targets configured", http.StatusServiceUnavailable)
	}
	opts, err := c.exportOptions(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid export parameters", http.StatusBadRequest)
	}

	dir, err := os.MkdirTemp("", "treetrack-publish-")
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create staging directory", http.StatusInternalServerError)
	}
	defer os.RemoveAll(dir)

	reqCtx := ctx.Request().Context()
	result, err := c.exporter.WriteFile(reqCtx, dir, opts)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Export failed")
	}

	outcomes, err := c.deps.Publisher.Publish(reqCtx, result.Path)
	resp := PublishResponse{Export: result, Outcomes: outcomes}
	// the staging path is meaningless to the caller
	resp.Export.Path = ""
	if err != nil {
		return ctx.JSON(http.StatusBadGateway, resp)
	}
	return ctx.JSON(http.StatusOK, resp)
}
