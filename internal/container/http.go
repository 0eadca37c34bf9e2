package container

import (
	"errors"
	"net/http"
	"strings"

	"github.com/avetrin/govault/internal/auth"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts container endpoints onto the router.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.POST("/volumes", handler.createContainer)
	group.GET("/volumes", handler.listContainers)
	group.GET("/volumes/:volume", handler.getContainer)
	group.DELETE("/volumes/:volume", handler.deleteContainers)
}

type httpHandler struct {
	service *Service
}

type createContainerRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *httpHandler) createContainer(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	created, err := h.service.Create(c.Request.Context(), userID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid container name"})
		case errors.Is(err, ErrNameExists):
			c.JSON(http.StatusConflict, gin.H{"error": "container name already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create container"})
		}
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) listContainers(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	containers, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list containers"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"volumes": containers})
}

func (h *httpHandler) getContainer(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	found, err := h.service.Resolve(c.Request.Context(), userID, c.Param("volume"))
	if err != nil {
		if errors.Is(err, ErrContainerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "container not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get container"})
		return
	}

	c.JSON(http.StatusOK, found)
}

// deleteContainers accepts a single name/id or a comma-separated list and
// returns the identifiers actually removed.
func (h *httpHandler) deleteContainers(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var removed []string
	for _, target := range strings.Split(c.Param("volume"), ",") {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		id, err := h.service.Delete(c.Request.Context(), userID, target)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "container not found", "removed": removed})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete container", "removed": removed})
			return
		}
		removed = append(removed, id.String())
	}

	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
