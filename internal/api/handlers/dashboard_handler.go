package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/backtesting-org/sitewatch/internal/services"
	"github.com/backtesting-org/sitewatch/pkg/subscription"
	"github.com/backtesting-org/sitewatch/pkg/websocket/connection"
)

// DashboardHandler serves the site table and drives the monitor's views
type DashboardHandler struct {
	monitor Monitor
	logger  *zap.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(monitor *services.SiteMonitor, logger *zap.Logger) *DashboardHandler {
	return NewDashboardHandlerFor(monitor, logger)
}

// NewDashboardHandlerFor creates a handler over any Monitor
func NewDashboardHandlerFor(monitor Monitor, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		monitor: monitor,
		logger:  logger,
	}
}

// AppStateRequest reports a host lifecycle transition
type AppStateRequest struct {
	State string `json:"state" binding:"required"`
}

// FocusRequest reports whether a view is on screen
type FocusRequest struct {
	Focused *bool `json:"focused" binding:"required"`
}

// HealthStatus is the body of the health endpoint
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Views   int    `json:"views"`
	Sites   int    `json:"sites"`
}

// Health reports whether live updates are flowing
// GET /health
func (h *DashboardHandler) Health(c *gin.Context) {
	status := HealthStatus{
		Status:  "ok",
		Service: "sitewatch",
		Version: "1.0.0",
		Views:   len(h.monitor.Statuses()),
		Sites:   len(h.monitor.Sites()),
	}
	if h.monitor.Degraded() {
		status.Status = "degraded"
	}
	c.JSON(http.StatusOK, status)
}

// ListSites returns the last known site table
// GET /api/v1/sites
func (h *DashboardHandler) ListSites(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: h.monitor.Sites(),
	})
}

// GetSite returns one site
// GET /api/v1/sites/:id
func (h *DashboardHandler) GetSite(c *gin.Context) {
	id := c.Param("id")

	site, ok := h.monitor.Site(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Site not found",
			Message: "no data received for site " + id,
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Data: site})
}

// GetStatus returns the status of every mounted view
// GET /api/v1/status
func (h *DashboardHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Data: gin.H{
			"degraded": h.monitor.Degraded(),
			"views":    h.monitor.Statuses(),
		},
	})
}

// SetAppState forwards a foreground or background transition
// POST /api/v1/app-state
func (h *DashboardHandler) SetAppState(c *gin.Context) {
	var req AppStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	if err := h.monitor.SetAppState(req.State); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid app state",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "App state updated",
		Data:    gin.H{"state": req.State},
	})
}

// FocusView mounts or focuses a view, or marks it unfocused
// POST /api/v1/views/:view/focus
func (h *DashboardHandler) FocusView(c *gin.Context) {
	view := c.Param("view")

	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	status, err := h.monitor.Focus(view, *req.Focused)
	if err != nil {
		h.fail(c, view, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "View focus updated",
		Data:    status,
	})
}

// RefreshView requests fresh data for a view now
// POST /api/v1/views/:view/refresh
func (h *DashboardHandler) RefreshView(c *gin.Context) {
	view := c.Param("view")

	if err := h.monitor.Refresh(view); err != nil {
		h.fail(c, view, err)
		return
	}

	c.JSON(http.StatusAccepted, SuccessResponse{Message: "Refresh requested"})
}

// UnmountView tears a view down
// DELETE /api/v1/views/:view
func (h *DashboardHandler) UnmountView(c *gin.Context) {
	view := c.Param("view")

	if err := h.monitor.Unmount(view); err != nil {
		h.fail(c, view, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Message: "View unmounted"})
}

func (h *DashboardHandler) fail(c *gin.Context, view string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrUnknownView):
		code = http.StatusBadRequest
	case errors.Is(err, services.ErrViewNotMounted):
		code = http.StatusNotFound
	case errors.Is(err, services.ErrMonitorNotRunning):
		code = http.StatusServiceUnavailable
	case errors.Is(err, subscription.ErrTornDown), errors.Is(err, connection.ErrNotConnected):
		code = http.StatusConflict
	}

	if code == http.StatusInternalServerError {
		h.logger.Error("View request failed", zap.String("view", view), zap.Error(err))
	}

	c.JSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: err.Error(),
	})
}
