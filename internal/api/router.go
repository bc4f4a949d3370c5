package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/backtesting-org/sitewatch/internal/api/handlers"
	"github.com/backtesting-org/sitewatch/internal/api/websocket"
)

// SetupRouter sets up the API router
func SetupRouter(
	dashboardHandler *handlers.DashboardHandler,
	wsHandler *websocket.Handler,
	registry *prometheus.Registry,
	logger *zap.Logger,
	corsAllowOrigin string,
	clk clock.PassiveClock,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger, clk))

	if corsAllowOrigin == "" {
		corsAllowOrigin = "*"
	}
	config := cors.Config{
		AllowOrigins:     []string{corsAllowOrigin},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: corsAllowOrigin != "*",
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(config))

	router.GET("/health", dashboardHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Dashboard event stream
	router.GET("/ws", wsHandler.HandleConnection)

	v1 := router.Group("/api/v1")
	{
		sites := v1.Group("/sites")
		{
			sites.GET("", dashboardHandler.ListSites)
			sites.GET("/:id", dashboardHandler.GetSite)
		}

		v1.GET("/status", dashboardHandler.GetStatus)
		v1.POST("/app-state", dashboardHandler.SetAppState)

		views := v1.Group("/views")
		{
			views.POST("/:view/focus", dashboardHandler.FocusView)
			views.POST("/:view/refresh", dashboardHandler.RefreshView)
			views.DELETE("/:view", dashboardHandler.UnmountView)
		}
	}

	return router
}

// LoggerMiddleware creates a Gin middleware for logging
func LoggerMiddleware(logger *zap.Logger, clk clock.PassiveClock) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := clk.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := clk.Since(start)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				logger.Error("Request error", zap.String("error", e))
			}
			return
		}

		logger.Info("Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", latency),
		)
	}
}
