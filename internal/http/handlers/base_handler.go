// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"drivebid/internal/http/middleware"
	"drivebid/internal/modules/bid"
	"drivebid/internal/modules/booking"
	"drivebid/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

const maxIDLength = 128

func isValidID(v string) bool {
	if v == "" || len(v) > maxIDLength {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func queryUint(c *gin.Context, key string) (uint64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", key+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps the module error taxonomy onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, bid.ErrInvalidEnvelope):
		writeError(c, http.StatusBadRequest, "invalid_bid", err.Error())
	case errors.Is(err, bid.ErrOwnVehicle):
		writeError(c, http.StatusBadRequest, "own_vehicle", err.Error())
	case errors.Is(err, bid.ErrVehicleUnavailable):
		writeError(c, http.StatusBadRequest, "vehicle_unavailable", err.Error())
	case errors.Is(err, booking.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, bid.ErrVehicleNotFound), errors.Is(err, bid.ErrRenterNotFound), errors.Is(err, booking.ErrNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrInvalidState):
		writeError(c, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, booking.ErrSettlementUnavailable):
		writeError(c, http.StatusServiceUnavailable, "settlement_unavailable", err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}
