package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (c *Controller) initCatalogRoutes() {
	c.Group.GET("/catalog", c.ListSpecies)
	c.Group.GET("/catalog/:label", c.LookupSpecies)
}

// ListSpecies returns the species catalog in file order.
func (c *Controller) ListSpecies(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.deps.Catalog.Species())
}

// LookupSpecies resolves a name or alias to its catalog entry.
func (c *Controller) LookupSpecies(ctx echo.Context) error {
	species, ok := c.deps.Catalog.Lookup(ctx.Param("label"))
	if !ok {
		return c.HandleError(ctx, nil, "Species not in catalog", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, species)
}
