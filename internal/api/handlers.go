package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"reminder-service/internal/db"
	"reminder-service/internal/escalation"
	"reminder-service/internal/logging"
	"reminder-service/internal/push"
	"reminder-service/internal/scheduler"
)

type Handler struct {
	store  *db.DB
	sched  *scheduler.Service
	chain  *escalation.Service
	push   *push.Manager
	logger *logging.Logger
}

func NewHandler(store *db.DB, sched *scheduler.Service, chain *escalation.Service, pushMgr *push.Manager, logger *logging.Logger) *Handler {
	return &Handler{store: store, sched: sched, chain: chain, push: pushMgr, logger: logger}
}

func (h *Handler) ExpandMedication(c *gin.Context) {
	id := c.Param("id")
	med, err := h.store.GetMedication(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Medication not found"})
			return
		}
		h.logger.Errorf("Get medication %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	occs, err := h.sched.Expand(c.Request.Context(), med)
	if err != nil {
		h.logger.Errorf("Expand medication %s failed: %v", id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(occs), "occurrences": occs})
}

func (h *Handler) ExpandPatient(c *gin.Context) {
	id := c.Param("id")
	occs, err := h.sched.ExpandForPatient(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Expand patient %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"created": len(occs), "occurrences": occs})
}

func (h *Handler) SnoozeOccurrence(c *gin.Context) {
	var req struct {
		Minutes int `json:"minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	until, err := h.sched.Snooze(c.Request.Context(), id, req.Minutes)
	if err != nil {
		h.logger.Errorf("Snooze occurrence %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if until == nil {
		c.JSON(http.StatusOK, gin.H{"message": "Occurrence not found, nothing to snooze"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"snoozed_until": until})
}

func (h *Handler) RespondOccurrence(c *gin.Context) {
	var req struct {
		Action  string `json:"action" binding:"required"`
		Channel string `json:"channel"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Channel == "" {
		req.Channel = "api"
	}

	id := c.Param("id")
	if err := h.sched.ApplyResponse(c.Request.Context(), id, req.Action, req.Channel); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Occurrence not found"})
			return
		}
		h.logger.Errorf("Respond to occurrence %s failed: %v", id, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	occ, err := h.store.GetOccurrence(c.Request.Context(), id)
	if err == nil {
		h.push.SendToPatient(occ.PatientID, push.Event{
			Type:         "occurrence_updated",
			OccurrenceID: occ.ID,
			MedicationID: occ.MedicationID,
			Status:       string(occ.Status),
			At:           time.Now(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": "Response recorded"})
}

func (h *Handler) RescheduleOccurrence(c *gin.Context) {
	var req struct {
		Time time.Time `json:"time" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if err := h.sched.Reschedule(c.Request.Context(), id, req.Time); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Occurrence not found"})
			return
		}
		if errors.Is(err, scheduler.ErrNotReschedulable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logger.Errorf("Reschedule occurrence %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduled_time": req.Time})
}

func (h *Handler) PauseMedication(c *gin.Context) {
	id := c.Param("id")
	paused, err := h.sched.Pause(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Pause medication %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": paused})
}

func (h *Handler) ResumeMedication(c *gin.Context) {
	id := c.Param("id")
	resumed, err := h.sched.Resume(c.Request.Context(), id)
	if err != nil {
		h.logger.Errorf("Resume medication %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resumed": resumed})
}

func (h *Handler) UpcomingOccurrences(c *gin.Context) {
	id := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	occs, err := h.store.ListUpcomingOccurrences(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Errorf("List upcoming occurrences for patient %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, occs)
}

func (h *Handler) EscalationsByPatient(c *gin.Context) {
	id := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	escs, err := h.store.ListEscalationsByPatient(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Errorf("List escalations for patient %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, escs)
}

func (h *Handler) EscalationStats(c *gin.Context) {
	id := c.Param("id")
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
		return
	}

	since := time.Now().AddDate(0, 0, -days)
	stats, err := h.chain.StatsForPatient(c.Request.Context(), id, since)
	if err != nil {
		h.logger.Errorf("Escalation stats for patient %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
