package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/observability/metrics"
	"github.com/philipwilson/trees/internal/transfer"
)

// ReceiveTransfer accepts one envelope from the capture device. A new
// record answers 201, a redelivery 200; both confirm receipt so the
// sender can drop it from its queue. A record that can never be stored
// answers 422.
func (c *Controller) ReceiveTransfer(ctx echo.Context) error {
	if c.deps.Reconciler == nil {
		return c.HandleError(ctx, nil, "Transfer receiving is not enabled", http.StatusServiceUnavailable)
	}

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read request body", http.StatusBadRequest)
	}
	env, err := transfer.DecodeEnvelope(body)
	if err != nil {
		return c.HandleError(ctx, err, "Malformed transfer envelope", http.StatusUnprocessableEntity)
	}

	result, err := transfer.Dispatch(ctx.Request().Context(), c.deps.Reconciler, env, c.log, c.transferMetrics())
	switch {
	case errors.Is(err, transfer.ErrMalformedRecord):
		return c.HandleError(ctx, err, "Transfer record rejected", http.StatusUnprocessableEntity)
	case err != nil:
		return c.HandleStoreError(ctx, err, "Failed to store transfer record")
	case result.Duplicate:
		return ctx.JSON(http.StatusOK, result)
	default:
		return ctx.JSON(http.StatusCreated, result)
	}
}

func (c *Controller) transferMetrics() *metrics.TransferMetrics {
	if c.deps.Metrics == nil {
		return nil
	}
	return c.deps.Metrics.Transfer
}
