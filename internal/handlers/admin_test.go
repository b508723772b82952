package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/auth"
	"github.com/campus-brew/api/internal/services"
)

type stubExportService struct {
	issueFn  func(context.Context, services.IssueExportTokenCommand) (services.ExportToken, error)
	exportFn func(context.Context, string) (services.ExportArtifact, error)
}

func (s *stubExportService) IssueToken(ctx context.Context, cmd services.IssueExportTokenCommand) (services.ExportToken, error) {
	if s.issueFn != nil {
		return s.issueFn(ctx, cmd)
	}
	return services.ExportToken{}, errors.New("not implemented")
}

func (s *stubExportService) Export(ctx context.Context, token string) (services.ExportArtifact, error) {
	if s.exportFn != nil {
		return s.exportFn(ctx, token)
	}
	return services.ExportArtifact{}, errors.New("not implemented")
}

type stubAuditLogService struct {
	listFn  func(context.Context, services.AuditLogFilter) ([]services.AuditLogEntry, error)
	records []services.AuditLogRecord
}

func (s *stubAuditLogService) Record(ctx context.Context, record services.AuditLogRecord) {
	s.records = append(s.records, record)
}

func (s *stubAuditLogService) List(ctx context.Context, filter services.AuditLogFilter) ([]services.AuditLogEntry, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, errors.New("not implemented")
}

func adminRouter(deps AdminHandlersDeps) chi.Router {
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(deps).Routes)
	return router
}

func staffIdentity() *auth.Identity {
	return &auth.Identity{
		UID:         "staff-1",
		Name:        "Counter Staff",
		Permissions: []string{auth.PermissionAdminManage, auth.PermissionAdminCMS},
	}
}

func TestAdminHandlersTodayOrders(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	orders := &stubOrderService{
		todayFn: func(ctx context.Context) ([]services.Order, error) {
			return []services.Order{sampleOrder(now)}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/orders/today", nil), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Orders: orders}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload struct {
		Orders []orderPayload `json:"orders"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Orders) != 1 || payload.Orders[0].Number != "012" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAdminHandlersCreateOnSiteOrder(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(now), nil
		},
	}

	body := `{"on_site_name":"<i>Sato</i>","type":"takeout","lines":[{"item_type_id":"latte","amount":2}]}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/admin/orders", strings.NewReader(body)), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Orders: orders}).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OnSiteName != "Sato" {
		t.Fatalf("on-site name not sanitized: %q", captured.OnSiteName)
	}
	if captured.Channel != domain.ChannelOnSite {
		t.Fatalf("expected on-site channel, got %q", captured.Channel)
	}
	if captured.ActorID != "staff-1" {
		t.Fatalf("unexpected actor: %q", captured.ActorID)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ItemTypeID != "latte" || captured.Lines[0].Amount != 2 {
		t.Fatalf("unexpected lines: %+v", captured.Lines)
	}
}

func TestAdminHandlersUpdateOrder(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	var captured services.UpdateFulfillmentCommand
	orders := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error) {
			captured = cmd
			done := sampleOrder(now)
			done.Status = domain.OrderStatusDone
			done.Paid = true
			return done, nil
		},
	}

	body := `{"status":"done","paid":true}`
	req := withIdentity(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1", strings.NewReader(body)), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Orders: orders}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusDone {
		t.Fatalf("status not forwarded: %+v", captured.Status)
	}
	if captured.Paid == nil || !*captured.Paid {
		t.Fatalf("paid not forwarded: %+v", captured.Paid)
	}
}

func TestAdminHandlersUpdateSetting(t *testing.T) {
	var captured services.UpdateSettingCommand
	settings := &stubSettingsService{
		setFn: func(ctx context.Context, cmd services.UpdateSettingCommand) (services.SettingItem, error) {
			captured = cmd
			return services.SettingItem{Key: cmd.Key, Value: cmd.Value}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodPut, "/admin/settings/shop-open", strings.NewReader(`{"value":"0"}`)), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Settings: settings}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Key != "shop-open" || captured.Value != "0" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var payload settingPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Value != "0" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAdminHandlersSetItemSoldOut(t *testing.T) {
	var captured services.SetSoldOutCommand
	catalog := &stubCatalogService{
		soldOutFn: func(ctx context.Context, cmd services.SetSoldOutCommand) error {
			captured = cmd
			return nil
		},
	}
	deps := AdminHandlersDeps{Catalog: catalog}

	req := withIdentity(httptest.NewRequest(http.MethodPatch, "/admin/catalog/items/latte", strings.NewReader(`{"sold_out":true}`)), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(deps).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ItemTypeID != "latte" || !captured.SoldOut {
		t.Fatalf("unexpected command: %+v", captured)
	}

	// The flag is mandatory so a toggle is never implied.
	req = withIdentity(httptest.NewRequest(http.MethodPatch, "/admin/catalog/items/latte", strings.NewReader(`{}`)), staffIdentity())
	rr = httptest.NewRecorder()
	adminRouter(deps).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without sold_out, got %d", rr.Code)
	}
}

func TestAdminHandlersSetUserBlocked(t *testing.T) {
	var captured services.SetBlockedCommand
	users := &stubUserService{
		setBlockedFn: func(ctx context.Context, cmd services.SetBlockedCommand) error {
			captured = cmd
			return nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodPut, "/admin/users/user-9/blocked", strings.NewReader(`{"blocked":true}`)), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Users: users}).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-9" || !captured.Blocked || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestAdminHandlersStatistics(t *testing.T) {
	var captured services.StatsQuery
	stats := &stubStatisticsService{
		snapshotFn: func(ctx context.Context, query services.StatsQuery) (services.StatsSnapshot, error) {
			captured = query
			return services.StatsSnapshot{
				TodayRevenue: decimal.RequireFromString("1234.50"),
				TodayOrders:  8,
				Revenue: map[string]decimal.Decimal{
					"2025-03-31": decimal.RequireFromString("980.00"),
				},
				GeneratedAt: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/statistics?granularity=week&limit=12", nil), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Statistics: stats}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Granularity != domain.StatsByWeek || captured.Limit != 12 {
		t.Fatalf("unexpected query: %+v", captured)
	}
	var payload statsSnapshotPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.TodayRevenue != "1234.50" || payload.Revenue["2025-03-31"] != "980.00" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAdminHandlersIssueExportToken(t *testing.T) {
	var captured services.IssueExportTokenCommand
	exports := &stubExportService{
		issueFn: func(ctx context.Context, cmd services.IssueExportTokenCommand) (services.ExportToken, error) {
			captured = cmd
			return services.ExportToken{
				Token:     "signed-token",
				ExpiresAt: time.Date(2025, 4, 1, 10, 15, 0, 0, time.UTC),
			}, nil
		},
	}

	// An empty body means defaults.
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/admin/statistics/export-token", nil), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Exports: exports}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "staff-1" || captured.Granularity != "" || captured.Limit != 0 {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var payload exportTokenPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Token != "signed-token" || payload.ExpiresAt == "" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestAdminHandlersExportRedirect(t *testing.T) {
	exports := &stubExportService{
		exportFn: func(ctx context.Context, token string) (services.ExportArtifact, error) {
			if token != "tok-1" {
				return services.ExportArtifact{}, services.ErrExportTokenInvalid
			}
			return services.ExportArtifact{DownloadURL: "https://storage.example.com/exports/stats.xlsx"}, nil
		},
	}
	router := adminRouter(AdminHandlersDeps{Exports: exports})

	// The token is the credential, so no identity is attached.
	req := httptest.NewRequest(http.MethodGet, "/admin/statistics/export?token=tok-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("expected status 302, got %d", rr.Code)
	}
	if location := rr.Header().Get("Location"); location != "https://storage.example.com/exports/stats.xlsx" {
		t.Fatalf("unexpected redirect target: %q", location)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/statistics/export?token=forged", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for forged token, got %d", rr.Code)
	}
}

func TestAdminHandlersListAuditLogs(t *testing.T) {
	var captured services.AuditLogFilter
	audit := &stubAuditLogService{
		listFn: func(ctx context.Context, filter services.AuditLogFilter) ([]services.AuditLogEntry, error) {
			captured = filter
			return []services.AuditLogEntry{{
				ID:        "log_1",
				Actor:     "staff-1",
				ActorType: "staff",
				Action:    "order.update",
				TargetRef: "orders/ord_1",
				CreatedAt: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
			}}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/audit-logs?target=orders/ord_1&limit=5", nil), staffIdentity())
	rr := httptest.NewRecorder()
	adminRouter(AdminHandlersDeps{Audit: audit}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.TargetRef != "orders/ord_1" || captured.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	var payload struct {
		Entries []auditLogPayload `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Entries[0].Action != "order.update" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
