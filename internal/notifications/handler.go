package notifications

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"

	"ops-realtime/internal/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the notification and channel endpoints. The group must
// already run auth.Middleware.
func Routes(r *gin.RouterGroup, h *Handler) {
	r.GET("/notifications", h.List)
	r.POST("/notifications", h.Create)
	r.POST("/notifications/read-all", h.MarkAllRead)
	r.POST("/notifications/:id/read", h.MarkRead)
	r.DELETE("/notifications/:id", h.Delete)
	r.POST("/channels/:channel/events", h.PublishUpdate)
}

type createRequest struct {
	CreateInput
	// UserID targets another user of the same tenant.
	UserID string `json:"userId,omitempty"`
}

func (h *Handler) List(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	items, err := h.service.List(c.Request.Context(), id.TenantID, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target := id.UserID
	if req.UserID != "" {
		target = req.UserID
	}

	n, err := h.service.Create(c.Request.Context(), id.TenantID, target, req.CreateInput)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	n, err := h.service.MarkRead(c.Request.Context(), id.TenantID, id.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	updated, err := h.service.MarkAllRead(c.Request.Context(), id.TenantID, id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id.TenantID, id.UserID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) PublishUpdate(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.PublishUpdate(c.Request.Context(), id.TenantID, c.Param("channel"), json.RawMessage(body)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func identity(c *gin.Context) (*auth.Identity, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok || id.TenantID == "" || id.UserID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return nil, false
	}
	return id, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		slog.Error("[NOTIFY] Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
