package router

import (
	"net/http"

	"npuprof/app/handler"
	"npuprof/app/middleware"
	"npuprof/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	profileHandler *handler.ProfileHandler
	recordHandler  *handler.RecordHandler
	apiKey         string
}

// NewRouter creates a new Router
func NewRouter(profileHandler *handler.ProfileHandler, recordHandler *handler.RecordHandler, apiKey string) *Router {
	return &Router{
		profileHandler: profileHandler,
		recordHandler:  recordHandler,
		apiKey:         apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(monitoring.Handler()))

	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(r.apiKey))
	{
		// Ingest
		v1.POST("/chunks/*stream", r.profileHandler.Ingest) // stream names may contain "/"
		v1.POST("/control/:name", r.profileHandler.Control)
		v1.POST("/flush", r.profileHandler.Flush)

		// Session
		v1.GET("/stats", r.profileHandler.Stats)
		v1.GET("/mode", r.profileHandler.GetMode)
		v1.PUT("/mode", r.profileHandler.SetMode)
		v1.PUT("/filters", r.profileHandler.SetFilters)

		// Records
		if r.recordHandler != nil {
			v1.GET("/records/recent", r.recordHandler.Recent)
			v1.GET("/sessions", r.recordHandler.Sessions)
			v1.GET("/sessions/:id/records", r.recordHandler.SessionRecords)
			v1.GET("/descriptors/stream", r.recordHandler.Stream)
		}
	}
}
