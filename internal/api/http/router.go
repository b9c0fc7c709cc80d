package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sablesec/strikepoint/internal/api/http/handler"
	"github.com/sablesec/strikepoint/internal/api/http/middleware"
	"github.com/sablesec/strikepoint/internal/collectors"
	"github.com/sablesec/strikepoint/internal/correlate"
	"github.com/sablesec/strikepoint/internal/dispatch"
	"github.com/sablesec/strikepoint/internal/enrollment"
	"github.com/sablesec/strikepoint/internal/store"
	"github.com/sablesec/strikepoint/internal/telemetry"
	"github.com/sablesec/strikepoint/internal/ws"
)

type Services struct {
	Collectors *collectors.Service
	Enrollment *enrollment.Service
	Telemetry  *telemetry.Service
	Journeys   store.JourneyStore
	Dispatcher *dispatch.Service
	Correlator *correlate.Service
	Queue      *dispatch.CollectorQueue
	Hub        *ws.Hub
}

func SetupRoute(engine *gin.Engine, cfg *Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
		engine.Use(cors.New(corsConfig))
	}

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Collector-facing: authenticated by enrollment token in the body.
	telemetryHandler := handler.NewTelemetryHandler(srvs.Telemetry)
	engine.POST("/telemetry", telemetryHandler.IngestTelemetry)

	// Machine-to-machine: scan worker callbacks and collector job pulls.
	resultsHandler := handler.NewResultsHandler(srvs.Dispatcher, srvs.Correlator, srvs.Queue)
	internal := engine.Group("/api", middleware.APIKeyAuth(cfg.InternalAPIKey))
	internal.POST("/journeys/:id/results", resultsHandler.ResultCallback)
	internal.GET("/collectors/:id/jobs", resultsHandler.PullJobs)

	// Operator-facing: JWT-authenticated tenant console.
	collectorsHandler := handler.NewCollectorsHandler(srvs.Collectors, srvs.Enrollment, srvs.Telemetry)
	journeysHandler := handler.NewJourneysHandler(srvs.Journeys, srvs.Dispatcher, srvs.Correlator)
	wsHandler := handler.NewWSHandler(srvs.Hub)

	operator := engine.Group("/", middleware.JWTAuth(cfg.JWTSecret))
	operator.POST("/collectors", collectorsHandler.RegisterCollector)
	operator.GET("/collectors", collectorsHandler.ListCollectors)
	operator.GET("/collectors/:id", collectorsHandler.GetCollector)
	operator.POST("/collectors/:id/regenerate-token", collectorsHandler.RegenerateToken)
	operator.POST("/collectors/:id/acknowledge-error", collectorsHandler.AcknowledgeError)
	operator.GET("/collectors/:id/telemetry", collectorsHandler.TelemetryHistory)

	operator.POST("/journeys", journeysHandler.CreateJourney)
	operator.GET("/journeys", journeysHandler.ListJourneys)
	operator.GET("/journeys/:id", journeysHandler.GetJourney)
	operator.POST("/journeys/:id/cancel", journeysHandler.CancelJourney)

	operator.GET("/ws/telemetry", wsHandler.TelemetryStream)
}
