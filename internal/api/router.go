package api

import (
	"github.com/datallboy/gotubedl/internal/api/controllers"
	"github.com/datallboy/gotubedl/internal/app"
	"github.com/datallboy/gotubedl/internal/downloader"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, svc *downloader.Service) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	dlCtrl := &controllers.DownloadController{App: app, Service: svc}
	historyCtrl := &controllers.HistoryController{App: app}
	eventsCtrl := &controllers.EventsController{App: app}

	// Download session
	e.POST("/api/downloads", dlCtrl.Submit)
	e.POST("/api/downloads/stop", dlCtrl.Stop)
	e.GET("/api/downloads/status", dlCtrl.Status)

	// Live progress stream
	e.GET("/api/events", eventsCtrl.Stream)

	// History
	e.GET("/api/runs", historyCtrl.ListRuns)
	e.GET("/api/runs/:id", historyCtrl.GetRun)
	e.GET("/api/runs/:id/items", historyCtrl.ListItems)
}
