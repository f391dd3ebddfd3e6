package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/powerdash/backend/internal/api/controllers"
	"github.com/powerdash/backend/internal/api/middleware"
	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/services"
	"github.com/powerdash/backend/internal/utils"
)

// Router manages the API routes and controllers
type Router struct {
	engine          *gin.Engine
	logger          *utils.Logger
	config          *config.Config
	serviceProvider *services.ServiceProvider
	apiV1           *gin.RouterGroup
}

// NewRouter creates a new Router instance
func NewRouter(
	config *config.Config,
	logger *utils.Logger,
	serviceProvider *services.ServiceProvider,
) *Router {
	// Set Gin mode based on environment
	switch {
	case config.Server.IsProduction():
		gin.SetMode(gin.ReleaseMode)
	case config.Server.IsTest():
		gin.SetMode(gin.TestMode)
	}

	engine := gin.New()

	// Use the logger and recovery middleware
	engine.Use(gin.Recovery())
	engine.Use(middleware.LoggingMiddleware(logger))
	if config.Metrics.Enabled {
		engine.Use(middleware.MetricsMiddleware(serviceProvider.GetMetrics()))
	}

	// Configure CORS
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Origin"}
	engine.Use(cors.New(corsConfig))

	return &Router{
		engine:          engine,
		logger:          logger.Named("router"),
		config:          config,
		serviceProvider: serviceProvider,
	}
}

// SetupRoutes configures all API routes
func (r *Router) SetupRoutes() {
	sp := r.serviceProvider

	r.engine.GET("/health", r.health)

	if r.config.Metrics.Enabled {
		r.engine.GET(r.config.Metrics.Path, gin.WrapH(sp.GetMetrics().Handler()))
	}

	// API version group - all main API routes are under /api/v1
	r.apiV1 = r.engine.Group("/api/v1")

	controllers.NewTelemetryController(sp.GetStore(), sp.GetHistory(), r.logger).
		RegisterRoutes(r.apiV1)
	controllers.NewDashboardController(sp.GetBilling(), sp.GetEfficiency(), sp.GetLoadState(), r.logger).
		RegisterRoutes(r.apiV1)
	controllers.NewForecastController(sp.GetForecast(), r.logger).
		RegisterRoutes(r.apiV1)
	controllers.NewRelayController(sp.GetOutput(), sp.GetController(), sp.GetThreshold(), sp.GetJournal(), r.logger).
		RegisterRoutes(r.apiV1.Group("/relay"))
	controllers.NewWebsocketController(sp.GetNotificationService(), r.logger).
		RegisterRoutes(r.apiV1)

	r.logger.Info("API routes setup completed")
}

// health reports liveness plus the broker link, which degrades actuation only
func (r *Router) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"mqtt_connected": r.serviceProvider.GetOutput().Connected(),
		"ws_clients":     r.serviceProvider.GetNotificationService().ClientCount(),
	})
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
