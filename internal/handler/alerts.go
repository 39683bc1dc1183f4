package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"silvercare/internal/models"
	"silvercare/internal/service"
	"silvercare/pkg/response"
)

type createAlertRequest struct {
	SeniorID          uint     `json:"seniorId" binding:"required"`
	CallSessionID     *uint    `json:"callSessionId"`
	Severity          string   `json:"severity"`
	Category          string   `json:"category"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	DangerKeywords    []string `json:"dangerKeywords"`
	TranscriptExcerpt string   `json:"transcriptExcerpt"`
}

type createAlertResponse struct {
	AlertID   uint                 `json:"alertId"`
	SeniorID  uint                 `json:"seniorId"`
	Severity  models.AlertSeverity `json:"severity"`
	Category  models.AlertCategory `json:"category"`
	Title     string               `json:"title"`
	Status    models.AlertStatus   `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
}

func (h *Handlers) handleCreateAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request body", gin.H{"error": err.Error()})
		return
	}

	severity := models.AlertSeverity(req.Severity)
	if severity != models.SeverityCritical && severity != models.SeverityWarning {
		response.Fail(c, "invalid severity", gin.H{"severity": req.Severity})
		return
	}
	category := models.AlertCategory(req.Category)
	switch category {
	case models.CategoryHealth, models.CategoryMental, models.CategoryNoResponse:
	default:
		response.Fail(c, "invalid category", gin.H{"category": req.Category})
		return
	}
	if req.Title == "" {
		response.Fail(c, "title is required", nil)
		return
	}

	h.createAlert(c, req, severity, category)
}

// Convenience variants pre-fill severity, category and title before
// delegating to the shared creation path.

func (h *Handlers) handleCreateHealthAlert(c *gin.Context) {
	h.createPrefilled(c, models.SeverityCritical, models.CategoryHealth, "건강 위험 신호 감지")
}

func (h *Handlers) handleCreateMentalAlert(c *gin.Context) {
	h.createPrefilled(c, models.SeverityCritical, models.CategoryMental, "심리 위험 신호 감지")
}

func (h *Handlers) handleCreateNoResponseAlert(c *gin.Context) {
	h.createPrefilled(c, models.SeverityWarning, models.CategoryNoResponse, "연속 무응답 감지")
}

func (h *Handlers) createPrefilled(c *gin.Context, severity models.AlertSeverity, category models.AlertCategory, defaultTitle string) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request body", gin.H{"error": err.Error()})
		return
	}
	if req.Severity != "" {
		severity = models.AlertSeverity(req.Severity)
		if severity != models.SeverityCritical && severity != models.SeverityWarning {
			response.Fail(c, "invalid severity", gin.H{"severity": req.Severity})
			return
		}
	}
	if req.Title == "" {
		req.Title = defaultTitle
	}
	h.createAlert(c, req, severity, category)
}

func (h *Handlers) createAlert(c *gin.Context, req createAlertRequest, severity models.AlertSeverity, category models.AlertCategory) {
	alert, err := h.alerts.CreateAlert(c.Request.Context(), service.CreateAlertInput{
		SeniorID:          req.SeniorID,
		CallSessionID:     req.CallSessionID,
		Severity:          severity,
		Category:          category,
		Title:             req.Title,
		Description:       req.Description,
		DangerKeywords:    req.DangerKeywords,
		TranscriptExcerpt: req.TranscriptExcerpt,
	})
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "alert created", createAlertResponse{
		AlertID:   alert.ID,
		SeniorID:  alert.SeniorID,
		Severity:  alert.Severity,
		Category:  alert.Category,
		Title:     alert.Title,
		Status:    alert.Status,
		CreatedAt: alert.CreatedAt,
	})
}

func (h *Handlers) handleGetAlert(c *gin.Context) {
	user := currentUser(c)
	alertID, ok := pathID(c)
	if !ok {
		return
	}

	detail, err := h.alerts.GetDetail(alertID, user.ID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "success", detail)
}

func (h *Handlers) handleListAlerts(c *gin.Context) {
	user := currentUser(c)
	filter := listFilterFromQuery(c)

	var (
		alerts []models.Alert
		total  int64
		err    error
	)
	if user.Role == models.RoleCounselor {
		alerts, total, err = h.alerts.ListForCounselor(user.ID, filter)
	} else {
		alerts, total, err = h.alerts.ListForReceiver(user.ID, filter)
	}
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "success", gin.H{"alerts": alerts, "total": total})
}

func (h *Handlers) handleListPending(c *gin.Context) {
	user := currentUser(c)
	if user.Role != models.RoleCounselor {
		response.Fail(c, "pending queue is counselor-only", nil)
		return
	}
	alerts, err := h.alerts.ListPendingForCounselor(user.ID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "success", gin.H{"alerts": alerts})
}

type processRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (h *Handlers) handleProcessAlert(c *gin.Context) {
	user := currentUser(c)
	alertID, ok := pathID(c)
	if !ok {
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid request body", gin.H{"error": err.Error()})
		return
	}

	alert, err := h.alerts.ProcessAlert(c.Request.Context(), alertID, user.ID, models.AlertStatus(req.Status), req.Note)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "alert processed", alert)
}

func (h *Handlers) handleMarkRead(c *gin.Context) {
	user := currentUser(c)
	alertID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.tracker.MarkRead(alertID, user.ID); err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "marked read", nil)
}

func (h *Handlers) handleMarkAllRead(c *gin.Context) {
	user := currentUser(c)
	if err := h.tracker.MarkAllRead(user.ID); err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "marked all read", nil)
}

func (h *Handlers) handleUnreadCount(c *gin.Context) {
	user := currentUser(c)
	count, err := h.tracker.UnreadCount(user.ID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "success", gin.H{"count": count})
}

func (h *Handlers) handleUnreadList(c *gin.Context) {
	user := currentUser(c)
	items, err := h.tracker.UnreadList(user.ID)
	if err != nil {
		response.Err(c, err)
		return
	}
	response.Success(c, "success", gin.H{"items": items})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.Fail(c, "invalid alert id", gin.H{"id": c.Param("id")})
		return 0, false
	}
	return uint(id), true
}

func listFilterFromQuery(c *gin.Context) service.ListFilter {
	filter := service.ListFilter{
		Status:   models.AlertStatus(c.Query("status")),
		Severity: models.AlertSeverity(c.Query("severity")),
	}
	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Page = n
		}
	}
	if v := c.Query("pageSize"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.PageSize = n
		}
	}
	if v := c.Query("from"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = &ts
		}
	}
	if v := c.Query("to"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = &ts
		}
	}
	return filter
}
