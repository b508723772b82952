package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/auth"
	"github.com/campus-brew/api/internal/platform/httpx"
	"github.com/campus-brew/api/internal/services"
)

const (
	maxAdminBodySize   = 16 * 1024
	defaultAuditLimit  = 50
	maxStatsQueryLimit = 366
)

// AdminHandlers exposes the staff surface: order management, settings,
// catalog toggles, statistics and exports.
type AdminHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	catalog  services.CatalogService
	settings services.SettingsService
	users    services.UserService
	stats    services.StatisticsService
	exports  services.ExportService
	audit    services.AuditLogService
}

// AdminHandlersDeps bundles the services behind the staff endpoints.
type AdminHandlersDeps struct {
	Authenticator *auth.Authenticator
	Orders        services.OrderService
	Catalog       services.CatalogService
	Settings      services.SettingsService
	Users         services.UserService
	Statistics    services.StatisticsService
	Exports       services.ExportService
	Audit         services.AuditLogService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:    deps.Authenticator,
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		settings: deps.Settings,
		users:    deps.Users,
		stats:    deps.Statistics,
		exports:  deps.Exports,
		audit:    deps.Audit,
	}
}

// Routes registers the /admin endpoints. Order and settings management require
// admin.manage; statistics and exports require admin.cms. The export download
// itself is authorised by its one-shot token so browsers can follow the link.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(manage chi.Router) {
		if h.authn != nil {
			manage.Use(h.authn.RequireAuth(auth.PermissionAdminManage))
		}
		manage.Get("/orders/today", h.todayOrders)
		manage.Get("/orders/active", h.activeOrders)
		manage.Post("/orders", h.createOnSiteOrder)
		manage.Patch("/orders/{orderID}", h.updateOrder)
		manage.Get("/settings", h.listSettings)
		manage.Put("/settings/{key}", h.updateSetting)
		manage.Patch("/catalog/items/{itemID}", h.updateCatalogItem)
		manage.Put("/users/{userID}/blocked", h.setUserBlocked)
	})

	r.Group(func(cms chi.Router) {
		if h.authn != nil {
			cms.Use(h.authn.RequireAuth(auth.PermissionAdminCMS))
		}
		cms.Get("/statistics", h.getStatistics)
		cms.Post("/statistics/export-token", h.issueExportToken)
		cms.Get("/audit-logs", h.listAuditLogs)
	})

	r.Get("/statistics/export", h.exportStatistics)
}

func (h *AdminHandlers) todayOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orders, err := h.orders.TodayOrders(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderList(ctx, w, orders)
}

func (h *AdminHandlers) activeOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	orders, err := h.orders.ActiveOrders(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeOrderList(ctx, w, orders)
}

type createOnSiteOrderRequest struct {
	OnSiteName   string                   `json:"on_site_name"`
	Type         string                   `json:"type"`
	DeliveryRoom string                   `json:"delivery_room"`
	Lines        []createOrderLineRequest `json:"lines"`
}

// createOnSiteOrder enters a walk-in order on behalf of a customer at the counter.
func (h *AdminHandlers) createOnSiteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOnSiteOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		OnSiteName:   sanitizeFreeText(req.OnSiteName),
		Channel:      domain.ChannelOnSite,
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

type updateOrderRequest struct {
	Status *string `json:"status"`
	Paid   *bool   `json:"paid"`
}

func (h *AdminHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateFulfillmentCommand{
		OrderID: orderID,
		Paid:    req.Paid,
		ActorID: strings.TrimSpace(identity.UID),
	}
	if req.Status != nil {
		status := services.OrderStatus(strings.TrimSpace(*req.Status))
		cmd.Status = &status
	}

	order, err := h.orders.UpdateFulfillment(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}
	items, err := h.settings.List(ctx)
	if err != nil {
		writeSettingError(ctx, w, err)
		return
	}
	payload := make([]settingPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, buildSettingPayload(item))
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{"settings": payload})
}

type updateSettingRequest struct {
	Value string `json:"value"`
}

func (h *AdminHandlers) updateSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "setting key is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateSettingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	item, err := h.settings.Set(ctx, services.UpdateSettingCommand{
		Key:     key,
		Value:   strings.TrimSpace(req.Value),
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeSettingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, buildSettingPayload(item))
}

type updateCatalogItemRequest struct {
	SoldOut *bool `json:"sold_out"`
}

func (h *AdminHandlers) updateCatalogItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateCatalogItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if req.SoldOut == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sold_out is required", http.StatusBadRequest))
		return
	}

	err = h.catalog.SetItemSoldOut(ctx, services.SetSoldOutCommand{
		ItemTypeID: itemID,
		SoldOut:    *req.SoldOut,
		ActorID:    strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setBlockedRequest struct {
	Blocked bool `json:"blocked"`
}

func (h *AdminHandlers) setUserBlocked(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req setBlockedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	err = h.users.SetBlocked(ctx, services.SetBlockedCommand{
		UserID:  userID,
		Blocked: req.Blocked,
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) getStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "statistics service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	limit, err := parseIntParam(query.Get("limit"), 0)
	if err != nil || limit < 0 || limit > maxStatsQueryLimit {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
		return
	}

	snapshot, err := h.stats.Snapshot(ctx, services.StatsQuery{
		Granularity: services.StatsGranularity(strings.TrimSpace(query.Get("granularity"))),
		Limit:       limit,
	})
	if err != nil {
		if errors.Is(err, services.ErrStatsInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("stats_error", "failed to compute statistics", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, buildStatsSnapshotPayload(snapshot))
}

type exportTokenRequest struct {
	Granularity string `json:"granularity"`
	Limit       int    `json:"limit"`
}

func (h *AdminHandlers) issueExportToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "export service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req exportTokenRequest
	if body, err := readLimitedBody(r, maxAdminBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	token, err := h.exports.IssueToken(ctx, services.IssueExportTokenCommand{
		ActorID:     strings.TrimSpace(identity.UID),
		Granularity: services.StatsGranularity(strings.TrimSpace(req.Granularity)),
		Limit:       req.Limit,
	})
	if err != nil {
		writeExportError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, exportTokenPayload{
		Token:     token.Token,
		ExpiresAt: formatTime(token.ExpiresAt),
	})
}

// exportStatistics redirects to a signed workbook URL. The token query
// parameter is the sole credential so the link works from a plain browser tab.
func (h *AdminHandlers) exportStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "export service unavailable", http.StatusServiceUnavailable))
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	artifact, err := h.exports.Export(ctx, token)
	if err != nil {
		writeExportError(ctx, w, err)
		return
	}
	http.Redirect(w, r, artifact.DownloadURL, http.StatusFound)
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.audit == nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_unavailable", "audit log service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	limit, err := parseIntParam(query.Get("limit"), defaultAuditLimit)
	if err != nil || limit < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
		return
	}

	entries, err := h.audit.List(ctx, services.AuditLogFilter{
		TargetRef: strings.TrimSpace(query.Get("target")),
		Actor:     strings.TrimSpace(query.Get("actor")),
		Action:    strings.TrimSpace(query.Get("action")),
		Limit:     limit,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	payload := make([]auditLogPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, auditLogPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Severity:  entry.Severity,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, map[string]any{"entries": payload})
}

func writeOrderList(ctx context.Context, w http.ResponseWriter, orders []services.Order) {
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, orderListResponse{Orders: items})
}

type exportTokenPayload struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type auditLogPayload struct {
	ID        string `json:"id"`
	Actor     string `json:"actor"`
	ActorType string `json:"actor_type,omitempty"`
	Action    string `json:"action"`
	TargetRef string `json:"target_ref,omitempty"`
	Severity  string `json:"severity,omitempty"`
	CreatedAt string `json:"created_at"`
}

type statsSnapshotPayload struct {
	TodayRevenue     string            `json:"today_revenue"`
	TodayOrders      int               `json:"today_orders"`
	TodayCups        int               `json:"today_cups"`
	TodayUniqueUsers int               `json:"today_unique_users"`
	WeekRevenue      string            `json:"week_revenue"`
	WeekRevenueRange string            `json:"week_revenue_range,omitempty"`
	Revenue          map[string]string `json:"revenue"`
	Orders           map[string]int    `json:"orders"`
	Cups             map[string]int    `json:"cups"`
	UniqueUsers      map[string]int    `json:"unique_users"`
	GeneratedAt      string            `json:"generated_at"`
}

func buildStatsSnapshotPayload(snapshot services.StatsSnapshot) statsSnapshotPayload {
	revenue := make(map[string]string, len(snapshot.Revenue))
	for label, amount := range snapshot.Revenue {
		revenue[label] = amount.StringFixed(2)
	}
	return statsSnapshotPayload{
		TodayRevenue:     snapshot.TodayRevenue.StringFixed(2),
		TodayOrders:      snapshot.TodayOrders,
		TodayCups:        snapshot.TodayCups,
		TodayUniqueUsers: snapshot.TodayUniqueUsers,
		WeekRevenue:      snapshot.WeekRevenue.StringFixed(2),
		WeekRevenueRange: snapshot.WeekRevenueRange,
		Revenue:          revenue,
		Orders:           snapshot.Orders,
		Cups:             snapshot.Cups,
		UniqueUsers:      snapshot.UniqueUsers,
		GeneratedAt:      formatTime(snapshot.GeneratedAt),
	}
}

func writeExportError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrExportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrExportTokenInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("export_token_invalid", "export token is invalid or expired", http.StatusUnauthorized))
	case errors.Is(err, services.ErrExportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "export generation failed", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("export_error", "failed to process export request", http.StatusInternalServerError))
	}
}
