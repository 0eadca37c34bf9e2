package upload

import (
	"errors"
	"net/http"

	"github.com/avetrin/govault/internal/auth"
	"github.com/avetrin/govault/internal/container"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts the upload endpoint.
func RegisterRoutes(group *gin.RouterGroup, coordinator *Coordinator, containers *container.Service) {
	handler := &httpHandler{coordinator: coordinator, containers: containers}
	group.POST("/volumes/:volume/files", handler.upload)
}

type httpHandler struct {
	coordinator *Coordinator
	containers  *container.Service
}

// upload streams the request's multipart body through the coordinator.
// Any outcome short of a bad container is an HTTP 200 with per-token detail.
func (h *httpHandler) upload(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	target, err := h.containers.Resolve(c.Request.Context(), userID, c.Param("volume"))
	if err != nil {
		if errors.Is(err, container.ErrContainerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "container not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve container"})
		return
	}

	var opts Options
	if parent := c.Query("parent"); parent != "" {
		parentID, err := uuid.Parse(parent)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent id"})
			return
		}
		opts.ParentID = &parentID
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart body required"})
		return
	}

	result := h.coordinator.Process(c.Request.Context(), userID, target, mr, opts)
	c.JSON(http.StatusOK, result)
}
