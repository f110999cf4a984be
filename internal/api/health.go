package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/philipwilson/trees/internal/buildinfo"
	"github.com/philipwilson/trees/internal/datastore"
	"github.com/philipwilson/trees/internal/logger"
)

// DiskStatus is the free space on the volume holding the photos.
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"totalBytes"`
	FreeBytes   uint64  `json:"freeBytes"`
	UsedPercent float64 `json:"usedPercent"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status         string         `json:"status"`
	Build          buildinfo.Info `json:"build"`
	Timestamp      string         `json:"timestamp"`
	Uptime         string         `json:"uptime"`
	UptimeSeconds  float64        `json:"uptime_seconds"`
	DatabaseStatus string         `json:"database_status"`
	DatabaseError  string         `json:"database_error,omitempty"`
	Disk           *DiskStatus    `json:"disk,omitempty"`
}

// HealthCheck reports liveness. The capture device probes it before
// draining its queue, so it answers 200 whenever the server is up; a
// failing database is reported as degraded in the body.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.deps.StartTime)
	resp := HealthResponse{
		Status:         "healthy",
		Build:          buildinfo.Get(),
		Timestamp:      c.now().Format(time.RFC3339),
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		DatabaseStatus: "connected",
	}

	if _, err := c.deps.Store.ListRecords(ctx.Request().Context(), datastore.RecordFilter{Limit: 1}); err != nil {
		resp.Status = "degraded"
		resp.DatabaseStatus = "disconnected"
		resp.DatabaseError = err.Error()
	}

	if c.deps.DiskPath != "" {
		usage, err := disk.Usage(c.deps.DiskPath)
		if err != nil {
			c.log.Debug("disk usage unavailable",
				logger.String("path", c.deps.DiskPath),
				logger.Error(err))
		} else {
			resp.Disk = &DiskStatus{
				Path:        c.deps.DiskPath,
				TotalBytes:  usage.Total,
				FreeBytes:   usage.Free,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}
