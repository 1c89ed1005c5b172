package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"focushive/presence-service/models"
	"focushive/presence-service/services"
	"focushive/presence-service/utils"
)

type PresenceHandler struct {
	service *services.PresenceService
	logger  *utils.Logger
}

func NewPresenceHandler(service *services.PresenceService, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		service: service,
		logger:  logger,
	}
}

func currentUserID(c *gin.Context) string {
	userID, _ := c.Get("userID")
	id, _ := userID.(string)
	return id
}

// UpdatePresence handles PUT /api/v1/presence
func (h *PresenceHandler) UpdatePresence(c *gin.Context) {
	var update models.PresenceUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	presence, err := h.service.UpdatePresence(c.Request.Context(), currentUserID(c), update)
	if err != nil {
		h.logger.Error("Failed to update presence", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update presence"})
		return
	}

	c.JSON(http.StatusOK, presence)
}

// Heartbeat handles POST /api/v1/presence/heartbeat
func (h *PresenceHandler) Heartbeat(c *gin.Context) {
	if err := h.service.RecordHeartbeat(c.Request.Context(), currentUserID(c)); err != nil {
		h.logger.Error("Failed to record heartbeat", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record heartbeat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// GetPresence handles GET /api/v1/presence/:userId
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID := c.Param("userId")

	presence, err := h.service.GetUserPresence(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get presence", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get presence"})
		return
	}
	if presence == nil {
		// Expired or never seen, report offline
		presence = &models.UserPresence{
			UserID: userID,
			Status: models.StatusOffline,
		}
	}

	c.JSON(http.StatusOK, presence)
}

// MarkOffline handles POST /api/v1/presence/offline
func (h *PresenceHandler) MarkOffline(c *gin.Context) {
	if err := h.service.MarkOffline(c.Request.Context(), currentUserID(c)); err != nil {
		h.logger.Error("Failed to mark offline", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark offline"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// JoinHive handles POST /api/v1/hives/:hiveId/presence/join
func (h *PresenceHandler) JoinHive(c *gin.Context) {
	hiveID := c.Param("hiveId")

	info, err := h.service.JoinHive(c.Request.Context(), hiveID, currentUserID(c))
	if err != nil {
		if errors.Is(err, services.ErrNotHiveMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "User is not a member of this hive"})
			return
		}
		h.logger.Error("Failed to join hive presence", "hive_id", hiveID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join hive presence"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// LeaveHive handles POST /api/v1/hives/:hiveId/presence/leave
func (h *PresenceHandler) LeaveHive(c *gin.Context) {
	hiveID := c.Param("hiveId")

	info, err := h.service.LeaveHive(c.Request.Context(), hiveID, currentUserID(c))
	if err != nil {
		h.logger.Error("Failed to leave hive presence", "hive_id", hiveID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to leave hive presence"})
		return
	}

	c.JSON(http.StatusOK, info)
}

// GetHiveActiveUsers handles GET /api/v1/hives/:hiveId/presence
func (h *PresenceHandler) GetHiveActiveUsers(c *gin.Context) {
	hiveID := c.Param("hiveId")

	users, err := h.service.GetHiveActiveUsers(c.Request.Context(), hiveID)
	if err != nil {
		h.logger.Error("Failed to get hive active users", "hive_id", hiveID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get hive active users"})
		return
	}

	c.JSON(http.StatusOK, models.HiveActiveUsersResponse{
		Count: len(users),
		Users: users,
	})
}

// GetHivesPresence handles POST /api/v1/presence/hives
func (h *PresenceHandler) GetHivesPresence(c *gin.Context) {
	var req models.HivesPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.service.GetHivesPresenceInfo(c.Request.Context(), req.HiveIDs)
	if err != nil {
		h.logger.Error("Failed to get hives presence info", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get hives presence info"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// StartSession handles POST /api/v1/sessions
func (h *PresenceHandler) StartSession(c *gin.Context) {
	var req models.StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	session, err := h.service.StartFocusSession(c.Request.Context(), currentUserID(c), req.HiveID, req.DurationMinutes, req.Type)
	if err != nil {
		if errors.Is(err, services.ErrActiveSessionExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "User already has an active session"})
			return
		}
		h.logger.Error("Failed to start focus session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start focus session"})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// EndSession handles POST /api/v1/sessions/:sessionId/end
func (h *PresenceHandler) EndSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	session, err := h.service.EndFocusSession(c.Request.Context(), currentUserID(c), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		case errors.Is(err, services.ErrSessionNotOwned):
			c.JSON(http.StatusForbidden, gin.H{"error": "Session not owned by user"})
		default:
			h.logger.Error("Failed to end focus session", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end focus session"})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetActiveSession handles GET /api/v1/sessions/active
func (h *PresenceHandler) GetActiveSession(c *gin.Context) {
	session, err := h.service.GetActiveSession(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.logger.Error("Failed to get active session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get active session"})
		return
	}
	if session == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, session)
}

// GetHiveSessions handles GET /api/v1/hives/:hiveId/sessions
func (h *PresenceHandler) GetHiveSessions(c *gin.Context) {
	hiveID := c.Param("hiveId")

	sessions, err := h.service.GetHiveSessions(c.Request.Context(), hiveID)
	if err != nil {
		h.logger.Error("Failed to get hive sessions", "hive_id", hiveID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get hive sessions"})
		return
	}

	c.JSON(http.StatusOK, models.HiveSessionsResponse{
		Count:    len(sessions),
		Sessions: sessions,
	})
}
