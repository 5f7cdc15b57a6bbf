// Package api exposes the HTTP surface: schedule expansion, occurrence
// lifecycle actions, escalation history and the dashboard WebSocket.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reminder-service/internal/config"
	"reminder-service/internal/db"
	"reminder-service/internal/escalation"
	"reminder-service/internal/logging"
	"reminder-service/internal/push"
	"reminder-service/internal/scheduler"
)

func NewRouter(store *db.DB, sched *scheduler.Service, chain *escalation.Service, pushMgr *push.Manager, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	h := NewHandler(store, sched, chain, pushMgr, logger)
	api := r.Group(cfg.API.BasePath)
	{
		// Schedule expansion
		api.POST("/medications/:id/expand", h.ExpandMedication)
		api.POST("/patients/:id/expand", h.ExpandPatient)

		// Occurrence lifecycle
		api.POST("/occurrences/:id/snooze", h.SnoozeOccurrence)
		api.POST("/occurrences/:id/respond", h.RespondOccurrence)
		api.PUT("/occurrences/:id/reschedule", h.RescheduleOccurrence)
		api.POST("/medications/:id/pause", h.PauseMedication)
		api.POST("/medications/:id/resume", h.ResumeMedication)
		api.GET("/patients/:id/occurrences/upcoming", h.UpcomingOccurrences)

		// Escalation history
		api.GET("/patients/:id/escalations", h.EscalationsByPatient)
		api.GET("/patients/:id/escalations/stats", h.EscalationStats)
	}

	r.GET("/ws/:patient_id", h.WebSocket)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
