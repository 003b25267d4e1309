// README: Dispatch handlers (delivery fee quote, driver rejections).
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"platter/internal/modules/pricing"
	"platter/internal/types"
)

type QuoteService interface {
	Quote(ctx context.Context, restaurant, destination types.Point) (pricing.Quote, error)
}

type RejectionService interface {
	AddRejection(ctx context.Context, orderID, driverID types.ID) error
	Rejections(ctx context.Context, orderID types.ID) ([]types.ID, error)
}

type DispatchHandler struct {
	pricing    QuoteService
	rejections RejectionService
}

func NewDispatchHandler(p QuoteService, r RejectionService) *DispatchHandler {
	return &DispatchHandler{pricing: p, rejections: r}
}

// Quote expects from_lat, from_lng, to_lat and to_lng query parameters.
func (h *DispatchHandler) Quote(c *gin.Context) {
	var coords [4]float64
	for i, k := range []string{"from_lat", "from_lng", "to_lat", "to_lng"} {
		v, err := strconv.ParseFloat(c.Query(k), 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid "+k)
			return
		}
		coords[i] = v
	}
	q, err := h.pricing.Quote(c.Request.Context(),
		types.Point{Lat: coords[0], Lng: coords[1]},
		types.Point{Lat: coords[2], Lng: coords[3]})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

type rejectionReq struct {
	DriverID string `json:"driver_id" binding:"required"`
}

func (h *DispatchHandler) AddRejection(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rejectionReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing or invalid driver_id")
		return
	}
	if err := h.rejections.AddRejection(c.Request.Context(), id, types.ID(req.DriverID)); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"order_id": id, "driver_id": req.DriverID})
}

func (h *DispatchHandler) Rejections(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	drivers, err := h.rejections.Rejections(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"order_id": id, "drivers": drivers})
}
