package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/duplicates"
)

func (c *Controller) initDuplicateRoutes() {
	c.Group.GET("/duplicates", c.ListDuplicates)
	c.Group.POST("/duplicates/resolve", c.ResolveDuplicates)
}

// ResolveRequest selects records to delete, either explicitly by id or
// with a bulk strategy (keep-oldest or keep-newest). Ids win when both
// are given.
type ResolveRequest struct {
	IDs      []string `json:"ids"`
	Strategy string   `json:"strategy"`
}

// ResolveResponse reports a committed resolution.
type ResolveResponse struct {
	*duplicates.Result
	Selected []string `json:"selected"`
}

// ListDuplicates returns the current duplicate sets, optionally narrowed
// by the usual record filters.
func (c *Controller) ListDuplicates(ctx echo.Context) error {
	filter, err := c.parseRecordFilter(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid filter", http.StatusBadRequest)
	}
	sets, err := c.resolver.Sets(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to find duplicates")
	}
	if sets == nil {
		sets = []duplicates.Set{}
	}
	return ctx.JSON(http.StatusOK, sets)
}

// ResolveDuplicates deletes the selected records. Nothing outside the
// selection is touched.
func (c *Controller) ResolveDuplicates(ctx echo.Context) error {
	req := &ResolveRequest{}
	if err := ctx.Bind(req); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}

	reqCtx := ctx.Request().Context()
	var sel *duplicates.Selection
	switch {
	case len(req.IDs) > 0:
		sel = duplicates.NewSelection(req.IDs...)
	case req.Strategy != "":
		sets, err := c.resolver.Sets(reqCtx, datastore.RecordFilter{})
		if err != nil {
			return c.HandleStoreError(ctx, err, "Failed to find duplicates")
		}
		var ok bool
		if sel, ok = duplicates.SelectByStrategy(sets, req.Strategy); !ok {
			return c.HandleError(ctx, nil, "Unknown strategy "+req.Strategy, http.StatusBadRequest)
		}
	default:
		return c.HandleError(ctx, nil, "ids or strategy is required", http.StatusBadRequest)
	}

	result, err := c.resolver.Commit(reqCtx, sel)
	if result == nil {
		return c.HandleStoreError(ctx, err, "Failed to delete duplicates")
	}
	// a blob cleanup error leaves the deletion committed
	return ctx.JSON(http.StatusOK, ResolveResponse{Result: result, Selected: sel.IDs()})
}
