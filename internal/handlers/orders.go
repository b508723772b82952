package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/auth"
	"github.com/campus-brew/api/internal/platform/httpx"
	"github.com/campus-brew/api/internal/services"
)

const (
	defaultOrderListLimit  = 20
	maxOrderListLimit      = 100
	maxCreateOrderBodySize = 16 * 1024

	publicOrderRateLimit  = 30
	publicOrderRateWindow = time.Minute
)

type createOrderRequest struct {
	Type         string                   `json:"type"`
	DeliveryRoom string                   `json:"delivery_room"`
	Lines        []createOrderLineRequest `json:"lines"`
}

type createOrderLineRequest struct {
	ItemTypeID    string   `json:"item_type_id"`
	OptionItemIDs []string `json:"option_item_ids"`
	Amount        int      `json:"amount"`
}

// OrderHandlers exposes order placement and lifecycle endpoints.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	limiter rateLimiter
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		limiter: newSimpleRateLimiter(publicOrderRateLimit, publicOrderRateWindow, nil),
	}
}

// Routes registers the /orders endpoints. Estimate and by-number lookups are
// public; everything else requires an authenticated user.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Get("/estimate", h.estimateWait)
	r.Get("/by-number/{number}", h.getByNumber)

	r.Group(func(authed chi.Router) {
		if h.authn != nil {
			authed.Use(h.authn.RequireAuth())
		}
		authed.Post("/", h.createOrder)
		authed.Get("/", h.listOrders)
		authed.Get("/{orderID}", h.getOrder)
		authed.Delete("/{orderID}", h.cancelOrder)
	})
}

func (h *OrderHandlers) estimateWait(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	estimate, err := h.orders.EstimateWait(ctx, strings.TrimSpace(r.URL.Query().Get("order_id")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payload := waitEstimatePayload{
		Minutes:       estimate.Minutes,
		PendingOrders: estimate.PendingOrders,
		Number:        estimate.Number,
	}
	if estimate.Status != nil {
		payload.Status = string(*estimate.Status)
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, payload)
}

func (h *OrderHandlers) getByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	if h.limiter != nil && !h.limiter.Allow(r.RemoteAddr) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	number := strings.TrimSpace(chi.URLParam(r, "number"))
	if number == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByNumber(ctx, number)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCreateOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:       strings.TrimSpace(identity.UID),
		Channel:      domain.ChannelOnline,
		Type:         domain.OrderType(strings.TrimSpace(req.Type)),
		DeliveryRoom: sanitizeFreeText(req.DeliveryRoom),
		ActorID:      strings.TrimSpace(identity.UID),
		Lines:        make([]services.CreateOrderLineInput, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.CreateOrderLineInput{
			ItemTypeID:    strings.TrimSpace(line.ItemTypeID),
			OptionItemIDs: line.OptionItemIDs,
			Amount:        line.Amount,
		})
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	limit, err := parseIntParam(r.URL.Query().Get("limit"), defaultOrderListLimit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
		return
	}
	switch {
	case limit <= 0:
		limit = defaultOrderListLimit
	case limit > maxOrderListLimit:
		limit = maxOrderListLimit
	}

	orders, err := h.orders.ListForUser(ctx, strings.TrimSpace(identity.UID), limit)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, orderListResponse{Orders: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.Get(ctx, services.GetOrderQuery{
		OrderID:     orderID,
		RequesterID: strings.TrimSpace(identity.UID),
		Staff:       identity.HasPermission(auth.PermissionAdminManage),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:     orderID,
		RequesterID: strings.TrimSpace(identity.UID),
		Staff:       identity.HasPermission(auth.PermissionAdminManage),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID           string             `json:"id"`
	Number       string             `json:"number"`
	UserID       string             `json:"user_id,omitempty"`
	OnSiteName   string             `json:"on_site_name,omitempty"`
	Channel      string             `json:"channel"`
	Type         string             `json:"type"`
	DeliveryRoom string             `json:"delivery_room,omitempty"`
	Status       string             `json:"status"`
	Paid         bool               `json:"paid"`
	TotalPrice   string             `json:"total_price"`
	Lines        []orderLinePayload `json:"lines"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at,omitempty"`
	DoneAt       string             `json:"done_at,omitempty"`
	PaidAt       string             `json:"paid_at,omitempty"`
}

type orderLinePayload struct {
	ID            string   `json:"id"`
	ItemTypeID    string   `json:"item_type_id"`
	ItemTypeName  string   `json:"item_type_name,omitempty"`
	OptionItemIDs []string `json:"option_item_ids,omitempty"`
	UnitPrice     string   `json:"unit_price"`
	Amount        int      `json:"amount"`
}

type waitEstimatePayload struct {
	Minutes       int    `json:"minutes"`
	PendingOrders int    `json:"pending_orders"`
	Number        string `json:"number,omitempty"`
	Status        string `json:"status,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:           order.ID,
		Number:       order.Number,
		UserID:       order.UserID,
		OnSiteName:   order.OnSiteName,
		Channel:      string(order.Channel),
		Type:         string(order.Type),
		DeliveryRoom: order.DeliveryRoom,
		Status:       string(order.Status),
		Paid:         order.Paid,
		TotalPrice:   order.TotalPrice.StringFixed(2),
		Lines:        make([]orderLinePayload, 0, len(order.Lines)),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
		DoneAt:       formatTime(pointerTime(order.DoneAt)),
		PaidAt:       formatTime(pointerTime(order.PaidAt)),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:            line.ID,
			ItemTypeID:    line.ItemTypeID,
			ItemTypeName:  line.ItemTypeName,
			OptionItemIDs: line.OptionItemIDs,
			UnitPrice:     line.UnitPrice.StringFixed(2),
			Amount:        line.Amount,
		})
	}
	return payload
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var refusal *services.RefusalError
	if errors.As(err, &refusal) {
		httpx.WriteError(ctx, w, httpx.NewError("order_refused", refusal.Eligibility.Detail, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(refusal.Eligibility.Reason)}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "not allowed for this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderRefused):
		httpx.WriteError(ctx, w, httpx.NewError("order_refused", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
