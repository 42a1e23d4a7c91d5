// Package api exposes the registered diffusers over HTTP and streams their
// state over WebSocket.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaz8081/felshare-ble/internal/ble/protocol"
	"github.com/chaz8081/felshare-ble/internal/diffuser"
)

// Devices is the lookup the handlers need; *diffuser.Registry implements it.
type Devices interface {
	List() []*diffuser.Device
	Get(id string) (*diffuser.Device, error)
}

// SnapshotLoader serves the last stored state of a device.
type SnapshotLoader interface {
	Load(ctx context.Context, address string) (protocol.State, time.Time, error)
}

var _ Devices = (*diffuser.Registry)(nil)

// Handler wires the HTTP layer to the device registry.
type Handler struct {
	devices   Devices
	snapshots SnapshotLoader // may be nil
}

// NewHandler constructs a handler. snapshots may be nil when persistence is
// disabled.
func NewHandler(devices Devices, snapshots SnapshotLoader) *Handler {
	return &Handler{devices: devices, snapshots: snapshots}
}

// InitRoutes builds the gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger)

	router.GET("/health", h.health)

	api := router.Group("/api/v1")
	{
		api.GET("/devices", h.listDevices)

		dev := api.Group("/devices/:id")
		{
			dev.GET("/state", h.getState)
			dev.GET("/ws", h.wsConnect)

			dev.POST("/power", h.setPower)
			dev.POST("/power/safe", h.powerOnSafe)
			dev.POST("/fan", h.setFan)
			// Body example: {"start":"09:00","end":"21:00","enabled":true,"days_mask":127,"run_s":30,"stop_s":280}
			dev.POST("/workmode", h.setWorkMode)
			dev.POST("/oil", h.setOil)
			dev.POST("/refresh", h.refresh)
		}
	}
	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	level := slog.LevelDebug
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	slog.Log(c.Request.Context(), level, "[API] request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}
