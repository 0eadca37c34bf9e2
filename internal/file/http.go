package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/avetrin/govault/internal/auth"
	"github.com/avetrin/govault/internal/container"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RegisterRoutes mounts file operations under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service, containers *container.Service) {
	handler := &httpHandler{service: service, containers: containers}
	group.GET("/volumes/:volume/files", handler.listFiles)
	group.GET("/volumes/:volume/files/:fileID/download", handler.downloadFile)
	group.DELETE("/files", handler.deleteFiles)
	group.GET("/files/:fileID/meta", handler.getMeta)
	group.PUT("/files/:fileID/meta", handler.setMeta)
	group.PATCH("/files/:fileID/name", handler.renameFile)
	group.PUT("/files/:fileID/visibility", handler.setVisibility)
}

type httpHandler struct {
	service    *Service
	containers *container.Service
}

func (h *httpHandler) listFiles(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	vol, err := h.containers.Resolve(c.Request.Context(), userID, c.Param("volume"))
	if err != nil {
		if errors.Is(err, container.ErrContainerNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "container not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	list, err := h.service.List(c.Request.Context(), userID, vol.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": list})
}

func (h *httpHandler) downloadFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	rec, body, encoding, err := h.service.Download(c.Request.Context(), userID, fileID, c.GetHeader("Accept-Encoding"))
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to download file"})
		return
	}
	defer body.Close()

	c.Header("Content-Type", rec.MimeType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
	if encoding != "" {
		c.Header("Content-Encoding", encoding)
	}
	c.Status(http.StatusOK)

	if _, err := io.Copy(c.Writer, body); err != nil {
		// headers are gone; nothing to do but drop the connection
		c.Abort()
	}
}

// deleteFiles removes files selected by exactly one of the id, parent,
// volume, or owner query parameters and returns the removed identifiers.
func (h *httpHandler) deleteFiles(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	var (
		removed []uuid.UUID
		err     error
	)

	switch {
	case c.Query("id") != "":
		id, parseErr := uuid.Parse(c.Query("id"))
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
			return
		}
		removed, err = h.service.Delete(ctx, userID, id)
	case c.Query("parent") != "":
		parentID, parseErr := uuid.Parse(c.Query("parent"))
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent id"})
			return
		}
		removed, err = h.service.DeleteByParent(ctx, userID, parentID)
	case c.Query("volume") != "":
		vol, resolveErr := h.containers.Resolve(ctx, userID, c.Query("volume"))
		if resolveErr != nil {
			if errors.Is(resolveErr, container.ErrContainerNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "container not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete files"})
			return
		}
		removed, err = h.service.PurgeContainer(ctx, userID, vol.ID)
	case c.Query("owner") != "":
		if !strings.EqualFold(c.Query("owner"), "true") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "owner filter must be true"})
			return
		}
		vols, listErr := h.containers.List(ctx, userID)
		if listErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete files"})
			return
		}
		for _, vol := range vols {
			ids, purgeErr := h.service.PurgeContainer(ctx, userID, vol.ID)
			removed = append(removed, ids...)
			if purgeErr != nil {
				err = purgeErr
				break
			}
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "one of id, parent, volume, or owner is required"})
		return
	}

	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete files", "removed": idStrings(removed)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"removed": idStrings(removed)})
}

func (h *httpHandler) getMeta(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	meta, err := h.service.GetMeta(c.Request.Context(), userID, fileID)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get meta"})
		return
	}
	if len(meta) == 0 {
		meta = json.RawMessage("null")
	}

	c.Data(http.StatusOK, "application/json", meta)
}

func (h *httpHandler) setMeta(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if err := h.service.SetMeta(c.Request.Context(), userID, fileID, body); err != nil {
		switch {
		case errors.Is(err, ErrInvalidMeta):
			c.JSON(http.StatusBadRequest, gin.H{"error": "meta must be valid json"})
		case errors.Is(err, ErrFileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set meta"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

type renameRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *httpHandler) renameFile(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.service.Rename(c.Request.Context(), userID, fileID, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidName):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		case errors.Is(err, ErrFileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rename file"})
		}
		return
	}

	c.JSON(http.StatusOK, rec)
}

type visibilityRequest struct {
	Public *bool `json:"public" binding:"required"`
}

func (h *httpHandler) setVisibility(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	fileID, err := uuid.Parse(c.Param("fileID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.service.SetVisibility(c.Request.Context(), userID, fileID, *req.Public)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update visibility"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
