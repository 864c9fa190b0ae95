package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/partnerhub/partnerhub/internal/apperr"
	"github.com/partnerhub/partnerhub/internal/db/repositories"
	"github.com/partnerhub/partnerhub/internal/middleware"
)

// NotificationHandlers serves the recipient-facing notification surface.
type NotificationHandlers struct {
	notifications *repositories.NotificationRepository
}

// NewNotificationHandlers creates handlers over the notification repository.
func NewNotificationHandlers(notifications *repositories.NotificationRepository) *NotificationHandlers {
	return &NotificationHandlers{notifications: notifications}
}

// List handles GET /notifications: rows targeted at the caller directly, at
// the caller's role, or broadcast without excluding the caller.
func (h *NotificationHandlers) List(c *gin.Context) {
	limit, offset := pagination(c, 50)

	list, err := h.notifications.ListForUser(c.Request.Context(),
		middleware.UserID(c), middleware.UserRole(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": list,
		"count":         len(list),
	})
}

// MarkRead handles POST /notifications/:id/read.
func (h *NotificationHandlers) MarkRead(c *gin.Context) {
	id, err := notificationID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.notifications.MarkRead(c.Request.Context(), id,
		middleware.UserID(c), middleware.UserRole(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if !updated {
		respondError(c, apperr.New(apperr.KindNotFound,
			"no unread notification with id %d visible to the caller", id))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Archive handles POST /notifications/:id/archive.
func (h *NotificationHandlers) Archive(c *gin.Context) {
	id, err := notificationID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	updated, err := h.notifications.Archive(c.Request.Context(), id,
		middleware.UserID(c), middleware.UserRole(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if !updated {
		respondError(c, apperr.New(apperr.KindNotFound,
			"no notification with id %d visible to the caller", id))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func notificationID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.KindValidation, "notification id must be a positive integer")
	}
	return id, nil
}
