package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ops-realtime/internal/auth"
)

type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// Routes mounts the webhook endpoints on an authenticated group.
func Routes(r *gin.RouterGroup, h *Handler) {
	r.GET("/webhooks", h.List)
	r.POST("/webhooks", h.Register)
	r.DELETE("/webhooks/:id", h.Unregister)
}

func (h *Handler) List(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.manager.Endpoints(tenantID))
}

func (h *Handler) Register(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	var req struct {
		URL    string   `json:"url" binding:"required"`
		Secret string   `json:"secret" binding:"required"`
		Events []string `json:"events"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.manager.Register(tenantID, Endpoint{URL: req.URL, Secret: req.Secret, Events: req.Events})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) Unregister(c *gin.Context) {
	tenantID, ok := tenant(c)
	if !ok {
		return
	}
	if err := h.manager.Unregister(tenantID, c.Param("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func tenant(c *gin.Context) (string, bool) {
	id, ok := auth.IdentityFrom(c)
	if !ok || id.TenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return id.TenantID, true
}
