// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"toda/internal/http/handlers"
	"toda/internal/http/middleware"
	"toda/internal/infra"
	"toda/internal/modules/booking"
	"toda/internal/modules/chat"
	"toda/internal/modules/driver"
	"toda/internal/modules/feed"
	"toda/internal/modules/pricing"
	"toda/internal/modules/queue"
	"toda/internal/modules/rating"
)

type RouterDeps struct {
	Bookings *booking.Service
	Queue    *queue.Service
	Drivers  *driver.Service
	Feed     *feed.Service
	Chat     *chat.Service
	Ratings  *rating.Service
	Pricing  *pricing.Service

	Verifier     infra.TokenVerifier
	AuthDisabled bool
	Log          logrus.FieldLogger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.Recovery(deps.Log),
		middleware.RequestID(),
		middleware.Logging(deps.Log),
		middleware.Metrics(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.Auth(deps.Verifier, deps.AuthDisabled)
	staff := middleware.RequireRole(middleware.RoleDispatcher, middleware.RoleAdmin)
	admin := middleware.RequireRole(middleware.RoleAdmin)
	device := middleware.RequireRole(middleware.RoleDevice, middleware.RoleDispatcher, middleware.RoleAdmin)

	api := r.Group("/api", auth)

	bookingHandler := handlers.NewBookingHandler(deps.Bookings, deps.Drivers, deps.Queue.Matcher())
	bookings := api.Group("/bookings")
	bookings.POST("", middleware.RequireRole(middleware.RoleCustomer), bookingHandler.Create)
	bookings.GET("/pending", staff, bookingHandler.Pending)
	bookings.GET("/:id", bookingHandler.Get)
	bookings.POST("/:id/status", middleware.RequireRole(middleware.RoleDriver, middleware.RoleDispatcher, middleware.RoleAdmin), bookingHandler.UpdateStatus)
	bookings.POST("/:id/arrived", middleware.RequireRole(middleware.RoleDriver), bookingHandler.Arrived)
	bookings.POST("/:id/no-show", middleware.RequireRole(middleware.RoleDriver), bookingHandler.NoShow)
	bookings.POST("/:id/cancel", bookingHandler.Cancel)
	bookings.GET("/:id/history", staff, bookingHandler.History)
	bookings.POST("/:id/match", staff, bookingHandler.Match)

	chatHandler := handlers.NewChatHandler(deps.Chat)
	bookings.GET("/:id/chat", chatHandler.Room)
	bookings.GET("/:id/chat/messages", chatHandler.Messages)
	bookings.POST("/:id/chat/messages", chatHandler.Send)
	bookings.POST("/:id/chat/read", chatHandler.MarkRead)

	ratingHandler := handlers.NewRatingHandler(deps.Ratings)
	bookings.GET("/:id/rating", ratingHandler.Get)
	bookings.POST("/:id/rating", middleware.RequireRole(middleware.RoleCustomer), ratingHandler.Submit)

	queueHandler := handlers.NewQueueHandler(deps.Queue)
	api.GET("/queue", queueHandler.List)
	api.POST("/queue/join", device, queueHandler.Join)
	api.POST("/queue/leave", device, queueHandler.Leave)
	api.POST("/queue/rematch", staff, queueHandler.Rematch)

	driverHandler := handlers.NewDriverHandler(deps.Drivers, deps.Feed)
	api.POST("/drivers/register", driverHandler.Register)
	api.POST("/drivers/applications/:appId/approve", admin, driverHandler.Approve)
	api.GET("/drivers/:id", driverHandler.Get)
	api.GET("/drivers/:id/status", driverHandler.Status)
	api.GET("/drivers/:id/stats", driverHandler.Stats)
	api.GET("/drivers/:id/available", driverHandler.Available)
	api.PUT("/drivers/:id/rfid", admin, driverHandler.AssignRFID)
	api.POST("/drivers/:id/rfid/missing", driverHandler.ReportMissingRFID)
	api.POST("/contributions", device, driverHandler.RecordCoin)

	pricingHandler := handlers.NewPricingHandler(deps.Pricing)
	api.GET("/fares", pricingHandler.Rate)
	api.GET("/fares/estimate", pricingHandler.Estimate)
	api.PUT("/fares", admin, pricingHandler.Update)

	streamHandler := handlers.NewStreamHandler(deps.Feed, deps.Queue, deps.Chat, deps.Log)
	ws := r.Group("/ws", auth)
	ws.GET("/bookings", streamHandler.Bookings)
	ws.GET("/queue", streamHandler.Queue)
	ws.GET("/chat/:id", streamHandler.Chat)

	return r
}
