package http

import (
	"net/http"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/services"
	"sfugate/internal/infrastructure/monitoring"
	apperrors "sfugate/pkg/errors"
	"sfugate/pkg/validation"

	"github.com/gin-gonic/gin"
)

// StatsSource reports live connection counts.
type StatsSource interface {
	ConnectionCount() int
}

type RoomHandler struct {
	registry  *services.RoomRegistry
	stats     StatsSource
	health    *monitoring.HealthChecker
	startTime time.Time
}

func NewRoomHandler(registry *services.RoomRegistry, stats StatsSource, health *monitoring.HealthChecker) *RoomHandler {
	return &RoomHandler{
		registry:  registry,
		stats:     stats,
		health:    health,
		startTime: time.Now(),
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
	}
}

type roomSummary struct {
	ID        domain.RoomID `json:"id"`
	Peers     int           `json:"peers"`
	WorkerPID int           `json:"worker_pid"`
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	ids := h.registry.RoomIDs()
	rooms := make([]roomSummary, 0, len(ids))
	for _, id := range ids {
		room, err := h.registry.Get(id)
		if err != nil {
			// evicted between listing and lookup
			continue
		}
		rooms = append(rooms, roomSummary{ID: id, Peers: room.PeerCount(), WorkerPID: room.WorkerPID()})
	}

	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"total": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateRoomID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	room, err := h.registry.Get(domain.RoomID(id))
	if err != nil {
		c.Error(err)
		return
	}

	snapshot := room.ToSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"id":         snapshot.ID,
		"peers":      snapshot.Peers,
		"producers":  room.GetProducerListForPeer(),
		"worker_pid": room.WorkerPID(),
	})
}

func (h *RoomHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status.Status,
		"checks":      status.Checks,
		"timestamp":   status.Timestamp,
		"uptime":      time.Since(h.startTime).String(),
		"rooms":       h.registry.Len(),
		"connections": h.stats.ConnectionCount(),
	})
}

func (h *RoomHandler) Ready(c *gin.Context) {
	if !h.health.IsReady(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "not_ready",
			"timestamp": time.Now(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}
