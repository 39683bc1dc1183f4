package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"silvercare/internal/service"
	"silvercare/pkg/config"
	"silvercare/pkg/metrics"
	"silvercare/pkg/push"
)

// Handlers bundles the HTTP surface over the alert services.
type Handlers struct {
	db      *gorm.DB
	hub     *push.Hub
	alerts  *service.AlertService
	tracker *service.ReadTracker
	cfg     *config.Config
}

func New(db *gorm.DB, hub *push.Hub, alerts *service.AlertService, tracker *service.ReadTracker, cfg *config.Config) *Handlers {
	return &Handlers{db: db, hub: hub, alerts: alerts, tracker: tracker, cfg: cfg}
}

// RegisterRoutes wires all endpoints onto the engine.
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", metrics.Handler())

	// Upstream call-agent surface, authenticated by the internal key.
	agent := r.Group("/api/agent", h.agentKeyRequired())
	{
		agent.POST("/alerts", h.handleCreateAlert)
		agent.POST("/alerts/health", h.handleCreateHealthAlert)
		agent.POST("/alerts/mental", h.handleCreateMentalAlert)
		agent.POST("/alerts/no-response", h.handleCreateNoResponseAlert)
	}

	// End-user-facing surface; identity comes from the auth gateway.
	api := r.Group("/api/alerts", h.identityRequired())
	{
		api.GET("/stream", h.handleStream)
		api.GET("/unread", h.handleUnreadList)
		api.GET("/unread/count", h.handleUnreadCount)
		api.POST("/read-all", h.handleMarkAllRead)
		api.GET("/pending", h.handleListPending)
		api.GET("", h.handleListAlerts)
		api.GET("/:id", h.handleGetAlert)
		api.POST("/:id/read", h.handleMarkRead)
		api.POST("/:id/process", h.handleProcessAlert)
	}
}
