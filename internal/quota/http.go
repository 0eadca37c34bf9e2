package quota

import (
	"errors"
	"net/http"

	"github.com/avetrin/govault/internal/auth"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the stats endpoint.
func RegisterRoutes(group *gin.RouterGroup, ledger *Ledger) {
	handler := &httpHandler{ledger: ledger}
	group.GET("/stats", handler.getStats)
}

type httpHandler struct {
	ledger *Ledger
}

func (h *httpHandler) getStats(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	rec, err := h.ledger.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "quota record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, rec)
}
