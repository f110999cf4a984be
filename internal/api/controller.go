package api

import (
	"crypto/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/philipwilson/trees/internal/catalog"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/duplicates"
	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/export"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability"
	"github.com/philipwilson/trees/internal/photostore"
	"github.com/philipwilson/trees/internal/publish"
	"github.com/philipwilson/trees/internal/reconcile"
)

// Deps are the components the controller serves.
type Deps struct {
	Store      datastore.Interface
	Photos     photostore.Store
	Reconciler *reconcile.Reconciler
	Catalog    *catalog.Catalog
	Publisher  *publish.Publisher
	Metrics    *observability.Metrics
	LogTail    *logger.TailBuffer
	DiskPath   string
	StartTime  time.Time
}

// Controller handles the /api/v1 routes.
type Controller struct {
	Group *echo.Group
	deps  Deps

	exporter *export.Exporter
	resolver *duplicates.Resolver
	log      logger.Logger
	now      func() time.Time
}

// NewController registers every route on g.
func NewController(g *echo.Group, deps Deps, log logger.Logger) *Controller {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	c := &Controller{
		Group:    g,
		deps:     deps,
		exporter: export.New(deps.Store, deps.Photos, log),
		resolver: duplicates.NewResolver(deps.Store, deps.Photos, log, duplicates.WithCanonicalizer(deps.Catalog)),
		log:      log,
		now:      time.Now,
	}
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)
	c.Group.POST("/transfers", c.ReceiveTransfer)

	c.initRecordRoutes()
	c.initGroupRoutes()
	c.initImportRoutes()
	c.initExportRoutes()
	c.initDuplicateRoutes()
	c.initCatalogRoutes()

	c.Group.GET("/logs", c.GetLogs)
}

// ErrorResponse represents a standard error response across the API
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // matches the server log line for this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates an 8 character identifier using crypto/rand
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err and writes a JSON error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		c.log.Error("API error", fields...)
	} else {
		c.log.Debug("API error", fields...)
	}

	return ctx.JSON(code, resp)
}

// HandleStoreError maps an error from the store or a domain package onto
// a status code by its category.
func (c *Controller) HandleStoreError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.IsNotFound(err),
		errors.Is(err, datastore.ErrRecordNotFound),
		errors.Is(err, datastore.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.Is(err, datastore.ErrInvalidInput),
		errors.IsCategory(err, errors.CategoryValidation),
		errors.IsCategory(err, errors.CategoryFileParsing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseRecordFilter reads the shared list filters:
// group, ungrouped, species, since, until, limit and offset.
func (c *Controller) parseRecordFilter(ctx echo.Context) (datastore.RecordFilter, error) {
	var filter datastore.RecordFilter

	if g := ctx.QueryParam("group"); g != "" {
		filter.GroupID = &g
	}
	if u := ctx.QueryParam("ungrouped"); u != "" {
		v, err := strconv.ParseBool(u)
		if err != nil {
			return filter, queryError("ungrouped", u)
		}
		filter.Ungrouped = v
	}
	filter.Species = ctx.QueryParam("species")

	now := c.now()
	var err error
	if filter.Since, err = export.ParseTime(ctx.QueryParam("since"), now); err != nil {
		return filter, err
	}
	if filter.Until, err = export.ParseTime(ctx.QueryParam("until"), now); err != nil {
		return filter, err
	}

	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := ctx.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, queryError(name, raw)
		}
		*dst = n
	}
	return filter, nil
}

func queryError(param, value string) error {
	return errors.Newf("invalid %s parameter %q", param, value).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// GetLogs returns the in-memory tail of recent log output.
func (c *Controller) GetLogs(ctx echo.Context) error {
	if c.deps.LogTail == nil {
		return c.HandleError(ctx, nil, "Log tail is disabled", http.StatusNotFound)
	}
	return ctx.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, c.deps.LogTail.Bytes())
}
