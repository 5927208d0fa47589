// README: Booking handlers for owner decisions, rental lifecycle and reads.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"drivebid/internal/modules/booking"
	"drivebid/internal/modules/pricing"
	"drivebid/internal/types"
)

type BookingService interface {
	UpdateStatus(ctx context.Context, cmd booking.StatusCommand) (*booking.Booking, error)
	Start(ctx context.Context, cmd booking.StartCommand) (*booking.Booking, error)
	End(ctx context.Context, cmd booking.EndCommand) (*booking.Booking, pricing.Settlement, error)
	Review(ctx context.Context, cmd booking.TransitionCommand) (*booking.Booking, error)
	Get(ctx context.Context, id, actorID types.ID) (*booking.Booking, error)
	List(ctx context.Context, q booking.ListQuery) ([]*booking.Booking, error)
	Settlement(ctx context.Context, id, actorID types.ID) (pricing.Settlement, error)
}

type BookingHandler struct {
	bookings BookingService
}

func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{bookings: svc}
}

type updateStatusReq struct {
	Status string `json:"status" binding:"required,oneof=approved rejected"`
}

type startReq struct {
	StartOdometerValue *float64 `json:"startOdometerValue" binding:"required,gte=0,lte=9999999999.99"`
}

type endReq struct {
	EndOdometerValue *float64 `json:"endOdometerValue" binding:"required,gte=0,lte=9999999999.99"`
}

func (h *BookingHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "status must be approved or rejected")
		return
	}
	b, err := h.bookings.UpdateStatus(c.Request.Context(), booking.StatusCommand{
		BookingID: id,
		ActorID:   caller(c),
		Status:    booking.Status(req.Status),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) Start(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req startReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "startOdometerValue is required and must not be negative")
		return
	}
	b, err := h.bookings.Start(c.Request.Context(), booking.StartCommand{
		BookingID:     id,
		ActorID:       caller(c),
		StartOdometer: req.StartOdometerValue,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) End(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req endReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "endOdometerValue is required and must not be negative")
		return
	}
	b, settlement, err := h.bookings.End(c.Request.Context(), booking.EndCommand{
		BookingID:   id,
		ActorID:     caller(c),
		EndOdometer: req.EndOdometerValue,
	})
	switch {
	case err == nil:
		writeJSON(c, http.StatusOK, gin.H{"booking": b, "settlement": settlement})
	case b != nil && errors.Is(err, booking.ErrSettlementUnavailable):
		_ = c.Error(err)
		writeJSON(c, http.StatusOK, gin.H{"booking": b, "settlement": nil})
	default:
		writeServiceError(c, err)
	}
}

func (h *BookingHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.bookings.Review(c.Request.Context(), booking.TransitionCommand{BookingID: id, ActorID: caller(c)})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *BookingHandler) List(c *gin.Context) {
	limit, ok := queryUint(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryUint(c, "offset")
	if !ok {
		return
	}
	out, err := h.bookings.List(c.Request.Context(), booking.ListQuery{
		ActorID:   caller(c),
		Role:      c.DefaultQuery("role", booking.ActorRenter),
		Status:    c.Query("status"),
		VehicleID: types.ID(c.Query("vehicleId")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": out})
}

func (h *BookingHandler) Settlement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	s, err := h.bookings.Settlement(c.Request.Context(), id, caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s)
}
