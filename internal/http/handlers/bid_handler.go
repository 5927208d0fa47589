// README: Bid submission handler (renter side).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"drivebid/internal/modules/bid"
	"drivebid/internal/types"
)

const headerIdempotencyKey = "Idempotency-Key"

type BidSubmitter interface {
	Submit(ctx context.Context, cmd bid.SubmitCommand) (bid.Receipt, error)
}

type BidHandler struct {
	bids BidSubmitter
}

func NewBidHandler(bids BidSubmitter) *BidHandler {
	return &BidHandler{bids: bids}
}

type addonReq struct {
	Name  string  `json:"name" binding:"required"`
	Price float64 `json:"price" binding:"gte=0"`
}

type placeBidReq struct {
	Amount         float64    `json:"amount" binding:"gte=0.01,lte=9999999999.99"`
	StartDate      types.Date `json:"startDate"`
	EndDate        types.Date `json:"endDate"`
	SelectedAddons []addonReq `json:"selectedAddons" binding:"dive"`
}

// Place accepts a bid for asynchronous persistence. The response only
// acknowledges the enqueue; the booking appears once the intake worker runs.
func (h *BidHandler) Place(c *gin.Context) {
	vehicleID, ok := pathID(c, "vehicleId")
	if !ok {
		return
	}
	var req placeBidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_bid", "invalid bid: "+err.Error())
		return
	}
	nonce := c.GetHeader(headerIdempotencyKey)
	if len(nonce) > 128 {
		writeError(c, http.StatusBadRequest, "bad_request", headerIdempotencyKey+" too long")
		return
	}
	addons := make([]bid.Addon, 0, len(req.SelectedAddons))
	for _, a := range req.SelectedAddons {
		addons = append(addons, bid.Addon{Name: a.Name, Price: a.Price})
	}

	receipt, err := h.bids.Submit(c.Request.Context(), bid.SubmitCommand{
		VehicleID: vehicleID,
		RenterID:  caller(c),
		Amount:    req.Amount,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Addons:    addons,
		Nonce:     nonce,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusAccepted, gin.H{
		"messageId": receipt.MessageID,
		"nonce":     receipt.Nonce,
		"status":    "pending",
	})
}
