package server

import (
	"net/http"

	"github.com/avetrin/govault/internal/auth"
	"github.com/avetrin/govault/internal/config"
	"github.com/avetrin/govault/internal/container"
	"github.com/avetrin/govault/internal/event"
	"github.com/avetrin/govault/internal/file"
	"github.com/avetrin/govault/internal/metrics"
	"github.com/avetrin/govault/internal/quota"
	"github.com/avetrin/govault/internal/remote"
	"github.com/avetrin/govault/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config           config.Config
	DB               *pgxpool.Pool
	Backend          remote.Backend
	AuthService      *auth.Service
	ContainerService *container.Service
	FileService      *file.Service
	Coordinator      *upload.Coordinator
	Ledger           *quota.Ledger
	Hub              *event.Hub
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.AuthService != nil {
		auth.RegisterRoutes(api, deps.AuthService)

		protected := api.Group("/")
		protected.Use(auth.AuthMiddleware(deps.AuthService))

		if deps.ContainerService != nil {
			container.RegisterRoutes(protected, deps.ContainerService)
		}
		if deps.FileService != nil && deps.ContainerService != nil {
			file.RegisterRoutes(protected, deps.FileService, deps.ContainerService)
		}
		if deps.Coordinator != nil && deps.ContainerService != nil {
			upload.RegisterRoutes(protected, deps.Coordinator, deps.ContainerService)
		}
		if deps.Ledger != nil {
			quota.RegisterRoutes(protected, deps.Ledger)
		}
		if deps.Hub != nil {
			protected.GET("/events", func(c *gin.Context) {
				userID, _, ok := auth.RequireUser(c)
				if !ok {
					c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
					return
				}
				if err := deps.Hub.Subscribe(c.Writer, c.Request, userID); err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "websocket upgrade failed"})
				}
			})
		}
	}

	return router
}
