package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/campus-brew/api/internal/platform/auth"
	"github.com/campus-brew/api/internal/services"
)

type stubUserService struct {
	ensureFn     func(context.Context, services.EnsureProfileCommand) (services.User, error)
	getFn        func(context.Context, string) (services.User, error)
	deleteFn     func(context.Context, services.DeleteAccountCommand) error
	setBlockedFn func(context.Context, services.SetBlockedCommand) error
}

func (s *stubUserService) EnsureProfile(ctx context.Context, cmd services.EnsureProfileCommand) (services.User, error) {
	if s.ensureFn != nil {
		return s.ensureFn(ctx, cmd)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) Get(ctx context.Context, userID string) (services.User, error) {
	if s.getFn != nil {
		return s.getFn(ctx, userID)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) Delete(ctx context.Context, cmd services.DeleteAccountCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubUserService) SetBlocked(ctx context.Context, cmd services.SetBlockedCommand) error {
	if s.setBlockedFn != nil {
		return s.setBlockedFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

type stubQuotaService struct {
	checkFn func(context.Context, services.EligibilityQuery) (services.Eligibility, error)
}

func (s *stubQuotaService) CheckEligibility(ctx context.Context, query services.EligibilityQuery) (services.Eligibility, error) {
	if s.checkFn != nil {
		return s.checkFn(ctx, query)
	}
	return services.Eligibility{}, errors.New("not implemented")
}

type stubStatisticsService struct {
	snapshotFn func(context.Context, services.StatsQuery) (services.StatsSnapshot, error)
	forUserFn  func(context.Context, string) (services.UserStatistics, error)
}

func (s *stubStatisticsService) Snapshot(ctx context.Context, query services.StatsQuery) (services.StatsSnapshot, error) {
	if s.snapshotFn != nil {
		return s.snapshotFn(ctx, query)
	}
	return services.StatsSnapshot{}, errors.New("not implemented")
}

func (s *stubStatisticsService) ForUser(ctx context.Context, userID string) (services.UserStatistics, error) {
	if s.forUserFn != nil {
		return s.forUserFn(ctx, userID)
	}
	return services.UserStatistics{}, errors.New("not implemented")
}

func meRouter(users services.UserService, quota services.QuotaService, stats services.StatisticsService) chi.Router {
	router := chi.NewRouter()
	router.Route("/me", NewMeHandlers(nil, users, quota, stats).Routes)
	return router
}

func TestMeHandlersGetProfileSyncsClaims(t *testing.T) {
	var captured services.EnsureProfileCommand
	users := &stubUserService{
		ensureFn: func(ctx context.Context, cmd services.EnsureProfileCommand) (services.User, error) {
			captured = cmd
			return services.User{ID: cmd.UserID, Name: cmd.Name}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/me/", nil), &auth.Identity{
		UID:         "user-1",
		Name:        "Hanako Yamada",
		Phone:       "090-0000-0000",
		Permissions: []string{"admin.manage"},
	})
	rr := httptest.NewRecorder()
	meRouter(users, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" || captured.Name != "Hanako Yamada" {
		t.Fatalf("unexpected ensure command: %+v", captured)
	}
	if len(captured.Permissions) != 1 || captured.Permissions[0] != "admin.manage" {
		t.Fatalf("permissions not forwarded: %+v", captured.Permissions)
	}
}

func TestMeHandlersCanOrderReportsRefusal(t *testing.T) {
	quota := &stubQuotaService{
		checkFn: func(ctx context.Context, query services.EligibilityQuery) (services.Eligibility, error) {
			if query.UserID != "user-1" || query.Channel != "online" {
				t.Fatalf("unexpected query: %+v", query)
			}
			return services.Eligibility{
				Allowed: false,
				Reason:  services.ReasonActiveOrderExists,
				Detail:  "an order is already in progress",
			}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/me/can-order", nil), &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	meRouter(nil, quota, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload eligibilityPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Allowed || payload.Reason != "active_order_exists" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMeHandlersStatistics(t *testing.T) {
	stats := &stubStatisticsService{
		forUserFn: func(ctx context.Context, userID string) (services.UserStatistics, error) {
			return services.UserStatistics{
				TotalOrders: 12,
				TotalCups:   20,
				TotalSpent:  decimal.RequireFromString("6400.00"),
				Deletable:   true,
			}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/me/statistics", nil), &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	meRouter(nil, nil, stats).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload userStatisticsPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.TotalSpent != "6400.00" || !payload.Deletable {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestMeHandlersDeleteBlockedByActiveOrder(t *testing.T) {
	users := &stubUserService{
		deleteFn: func(ctx context.Context, cmd services.DeleteAccountCommand) error {
			if cmd.Staff {
				t.Fatal("self-deletion must not carry staff privileges")
			}
			return services.ErrUserHasActiveOrder
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodDelete, "/me/", nil), &auth.Identity{UID: "user-1"})
	rr := httptest.NewRecorder()
	meRouter(users, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestMeHandlersRequireIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me/", nil)
	rr := httptest.NewRecorder()
	meRouter(&stubUserService{}, nil, nil).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
