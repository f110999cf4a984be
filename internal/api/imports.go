package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/reconcile"
)

// maxImportBytes caps one uploaded interchange file. JSON exports carry
// base64 photos, so this is generous.
const maxImportBytes = 256 << 20

func (c *Controller) initImportRoutes() {
	c.Group.POST("/imports", c.Import)
}

// Import reconciles an uploaded interchange file into the store. The file
// is sent as the multipart field "file", whose name selects the format,
// or as the raw body with ?format=json|csv|gpx.
func (c *Controller) Import(ctx echo.Context) error {
	if c.deps.Reconciler == nil {
		return c.HandleError(ctx, nil, "Import is not enabled", http.StatusServiceUnavailable)
	}

	format := strings.ToLower(strings.TrimSpace(ctx.QueryParam("format")))
	if format == "" && strings.HasPrefix(ctx.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := ctx.FormFile("file")
		if err != nil {
			return c.HandleError(ctx, err, "Missing file field", http.StatusBadRequest)
		}
		if format, err = reconcile.FormatFromPath(fh.Filename); err != nil {
			return c.HandleError(ctx, err, "Unsupported file type", http.StatusBadRequest)
		}
	}
	if format == "" {
		format = reconcile.FormatJSON
	}

	data, err := readUpload(ctx, "file", maxImportBytes)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read import file", http.StatusBadRequest)
	}

	summary, err := c.deps.Reconciler.ImportData(ctx.Request().Context(), data, format)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Import failed")
	}
	return ctx.JSON(http.StatusOK, summary)
}
