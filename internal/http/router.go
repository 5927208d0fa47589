// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drivebid/internal/http/handlers"
	"drivebid/internal/http/middleware"
	"drivebid/internal/infra"
)

type RouterDeps struct {
	Bids     handlers.BidSubmitter
	Bookings handlers.BookingService
	Verifier infra.TokenVerifier
	Log      *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", middleware.Auth(deps.Verifier))

	bidHandler := handlers.NewBidHandler(deps.Bids)
	api.POST("/bids/:vehicleId", bidHandler.Place)

	bookingHandler := handlers.NewBookingHandler(deps.Bookings)
	api.GET("/bookings", bookingHandler.List)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.GET("/bookings/:id/settlement", bookingHandler.Settlement)
	api.PATCH("/bookings/:id/status", bookingHandler.UpdateStatus)
	api.PATCH("/bookings/:id/start", bookingHandler.Start)
	api.PATCH("/bookings/:id/end", bookingHandler.End)
	api.PATCH("/bookings/:id/review", bookingHandler.Review)

	return r
}
