package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/datastore"
)

func (c *Controller) initGroupRoutes() {
	c.Group.GET("/groups", c.ListGroups)
	c.Group.POST("/groups", c.CreateGroup)
	c.Group.GET("/groups/:id", c.GetGroup)
	c.Group.PATCH("/groups/:id", c.RenameGroup)
	c.Group.DELETE("/groups/:id", c.DeleteGroup)
}

// GroupRequest is the body of group create and rename.
type GroupRequest struct {
	Name string `json:"name"`
}

// ListGroups returns every group with its record count.
func (c *Controller) ListGroups(ctx echo.Context) error {
	groups, err := c.deps.Store.ListGroups(ctx.Request().Context())
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to list groups")
	}
	if groups == nil {
		groups = []datastore.GroupSummary{}
	}
	return ctx.JSON(http.StatusOK, groups)
}

// CreateGroup creates an empty group.
func (c *Controller) CreateGroup(ctx echo.Context) error {
	req := &GroupRequest{}
	if err := ctx.Bind(req); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}
	group := &datastore.Group{Name: req.Name}
	if err := c.deps.Store.CreateGroup(ctx.Request().Context(), group); err != nil {
		return c.HandleStoreError(ctx, err, "Failed to create group")
	}
	return ctx.JSON(http.StatusCreated, group)
}

// GetGroup returns a group with its members.
func (c *Controller) GetGroup(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	id := ctx.Param("id")

	group, err := c.deps.Store.GetGroup(reqCtx, id)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Group not found")
	}
	members, err := c.deps.Store.ListRecords(reqCtx, datastore.RecordFilter{GroupID: &id})
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to list group members")
	}
	group.Records = members
	if group.Records == nil {
		group.Records = []datastore.Record{}
	}
	return ctx.JSON(http.StatusOK, group)
}

// RenameGroup changes a group's name.
func (c *Controller) RenameGroup(ctx echo.Context) error {
	req := &GroupRequest{}
	if err := ctx.Bind(req); err != nil {
		return c.HandleError(ctx, err, "Invalid request format", http.StatusBadRequest)
	}
	group, err := c.deps.Store.RenameGroup(ctx.Request().Context(), ctx.Param("id"), req.Name)
	if err != nil {
		return c.HandleStoreError(ctx, err, "Failed to rename group")
	}
	return ctx.JSON(http.StatusOK, group)
}

// DeleteGroup deletes a group; its records stay, ungrouped.
func (c *Controller) DeleteGroup(ctx echo.Context) error {
	if err := c.deps.Store.DeleteGroup(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return c.HandleStoreError(ctx, err, "Failed to delete group")
	}
	return ctx.NoContent(http.StatusNoContent)
}
