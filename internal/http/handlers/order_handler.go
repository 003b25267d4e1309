// README: Order handlers for create/get/history and status moves.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"platter/internal/modules/order"
	"platter/internal/types"
)

// OrderService is the slice of order.Service the handlers drive.
type OrderService interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.Order, error)
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	History(ctx context.Context, id types.ID) ([]order.Event, error)
	UpdateStatus(ctx context.Context, cmd order.StatusCommand) (*order.Order, error)
	AssignDriver(ctx context.Context, cmd order.AssignCommand) (*order.Order, error)
	Cancel(ctx context.Context, cmd order.CancelCommand) (*order.Order, error)
	Reject(ctx context.Context, cmd order.RejectCommand) (*order.Order, error)
}

type OrderHandler struct {
	order OrderService
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createItemReq struct {
	DishID    string   `json:"dish_id" binding:"required"`
	Quantity  int      `json:"quantity" binding:"required,min=1"`
	OptionIDs []string `json:"option_ids"`
}

type createOrderReq struct {
	CustomerID      string          `json:"customer_id" binding:"required"`
	RestaurantID    string          `json:"restaurant_id" binding:"required"`
	Items           []createItemReq `json:"items" binding:"required,min=1,dive"`
	DeliveryLat     float64         `json:"delivery_lat"`
	DeliveryLng     float64         `json:"delivery_lng"`
	DeliveryAddress string          `json:"delivery_address"`
	PaymentMethod   string          `json:"payment_method" binding:"required"`
	Discount        decimal.Decimal `json:"discount"`
	Note            string          `json:"note"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !isValidID(req.CustomerID) || !isValidID(req.RestaurantID) {
		writeError(c, http.StatusBadRequest, "invalid customer_id or restaurant_id")
		return
	}
	items := make([]order.CreateItem, 0, len(req.Items))
	for _, it := range req.Items {
		opts := make([]types.ID, 0, len(it.OptionIDs))
		for _, o := range it.OptionIDs {
			opts = append(opts, types.ID(o))
		}
		items = append(items, order.CreateItem{DishID: types.ID(it.DishID), Quantity: it.Quantity, OptionIDs: opts})
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:      types.ID(req.CustomerID),
		RestaurantID:    types.ID(req.RestaurantID),
		Items:           items,
		DeliveryPoint:   types.Point{Lat: req.DeliveryLat, Lng: req.DeliveryLng},
		DeliveryAddress: req.DeliveryAddress,
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		Discount:        req.Discount,
		Note:            req.Note,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.order.Get(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	evs, err := h.order.History(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"order_id": id, "events": evs})
}

type statusReq struct {
	Status    string `json:"status" binding:"required"`
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := order.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	o, err := h.order.UpdateStatus(c.Request.Context(), order.StatusCommand{
		OrderID:   id,
		Status:    st,
		ActorType: req.ActorType,
		ActorID:   optionalID(req.ActorID),
		Reason:    req.Reason,
	})
	writeOrderResult(c, o, err)
}

type assignReq struct {
	DriverID string `json:"driver_id" binding:"required"`
}

func (h *OrderHandler) AssignDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(req.DriverID) {
		writeError(c, http.StatusBadRequest, "missing or invalid driver_id")
		return
	}
	o, err := h.order.AssignDriver(c.Request.Context(), order.AssignCommand{
		OrderID:  id,
		DriverID: types.ID(req.DriverID),
	})
	writeOrderResult(c, o, err)
}

type cancelReq struct {
	ActorType string `json:"actor_type"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req cancelReq
	// empty body is a plain customer cancel
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	actor := req.ActorType
	if actor == "" {
		actor = order.ActorCustomer
	}
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:   id,
		ActorType: actor,
		ActorID:   optionalID(req.ActorID),
		Reason:    req.Reason,
	})
	writeOrderResult(c, o, err)
}

type rejectReq struct {
	RestaurantID string `json:"restaurant_id"`
	Reason       string `json:"reason"`
}

func (h *OrderHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req rejectReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	o, err := h.order.Reject(c.Request.Context(), order.RejectCommand{
		OrderID:      id,
		RestaurantID: types.ID(req.RestaurantID),
		Reason:       req.Reason,
	})
	writeOrderResult(c, o, err)
}

// writeOrderResult reports a committed cancellation whose refund failed as 202
// so the caller knows the status change stuck.
func writeOrderResult(c *gin.Context, o *order.Order, err error) {
	if err != nil && errors.Is(err, order.ErrRefundFailed) && o != nil {
		writeJSON(c, http.StatusAccepted, map[string]any{"order": o, "refund_error": err.Error()})
		return
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func optionalID(v string) *types.ID {
	if v == "" {
		return nil
	}
	id := types.ID(v)
	return &id
}
