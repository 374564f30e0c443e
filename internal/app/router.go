package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
	"dispatch/internal/handler"
	"dispatch/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler   *handler.RideHandler
	DriverHandler *handler.DriverHandler
	UserHandler   *handler.UserHandler
	WSHandler     *handler.WSHandler
	Authenticator *middleware.Authenticator
	RedisClient   *redis.Client
	NewRelicApp   *newrelic.Application
	Logger        *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORSMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/users/register", deps.UserHandler.Register)

	authed := v1.Group("")
	authed.Use(deps.Authenticator.Middleware())
	authed.Use(middleware.IdempotencyMiddleware(deps.RedisClient))
	{
		authed.GET("/users/me", deps.UserHandler.Me)
		authed.GET("/ws", deps.WSHandler.Connect)

		rides := authed.Group("/rides")
		{
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)

			rider := middleware.RequireRole(domain.RoleRider)
			rides.POST("", rider, deps.RideHandler.RequestRide)
			rides.GET("/active", rider, deps.RideHandler.ListActive)
			rides.GET("/history", rider, deps.RideHandler.ListHistory)

			driver := middleware.RequireRole(domain.RoleDriver)
			rides.GET("/pending", driver, deps.RideHandler.ListPending)
			rides.GET("/accepted", driver, deps.RideHandler.ListAccepted)
			rides.POST("/:id/accept", driver, deps.RideHandler.AcceptRide)
			rides.POST("/:id/complete", driver, deps.RideHandler.CompleteRide)
		}

		drivers := authed.Group("/drivers/me", middleware.RequireRole(domain.RoleDriver))
		{
			drivers.GET("/presence", deps.DriverHandler.GetPresence)
			drivers.PUT("/presence", deps.DriverHandler.SetPresence)
			drivers.PUT("/location", deps.DriverHandler.UpdateLocation)
		}
	}

	return router
}
