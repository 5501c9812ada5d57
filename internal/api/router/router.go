package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/health-notifier/internal/api/handlers/notification"
	"github.com/aliskhannn/health-notifier/internal/middlewares"
)

func New(handler *notification.Handler, allowedOrigins []string) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware(allowedOrigins...))
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/notifications/:id", handler.GetStatus)
	}

	admin := api.Group("/admin/notifications")
	{
		admin.POST("/send", handler.Send)
		admin.GET("/status", handler.ProcessorStatus)
		admin.POST("/process", handler.Process)
		admin.GET("/pending", handler.Pending)
		admin.GET("/stats", handler.Stats)
	}

	return e
}
