package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/services"
)

type stubSettingsService struct {
	getFn       func(context.Context, string) (services.SettingItem, error)
	getPublicFn func(context.Context, string) (services.SettingItem, error)
	listFn      func(context.Context) ([]services.SettingItem, error)
	setFn       func(context.Context, services.UpdateSettingCommand) (services.SettingItem, error)
}

func (s *stubSettingsService) Get(ctx context.Context, key string) (services.SettingItem, error) {
	if s.getFn != nil {
		return s.getFn(ctx, key)
	}
	return services.SettingItem{}, errors.New("not implemented")
}

func (s *stubSettingsService) GetPublic(ctx context.Context, key string) (services.SettingItem, error) {
	if s.getPublicFn != nil {
		return s.getPublicFn(ctx, key)
	}
	return services.SettingItem{}, errors.New("not implemented")
}

func (s *stubSettingsService) List(ctx context.Context) ([]services.SettingItem, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, errors.New("not implemented")
}

func (s *stubSettingsService) Set(ctx context.Context, cmd services.UpdateSettingCommand) (services.SettingItem, error) {
	if s.setFn != nil {
		return s.setFn(ctx, cmd)
	}
	return services.SettingItem{}, errors.New("not implemented")
}

func settingsRouter(service services.SettingsService) chi.Router {
	router := chi.NewRouter()
	router.Route("/settings", NewSettingsHandlers(service).Routes)
	return router
}

func TestSettingsHandlersGetPublicSetting(t *testing.T) {
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	service := &stubSettingsService{
		getPublicFn: func(ctx context.Context, key string) (services.SettingItem, error) {
			if key != domain.SettingShopOpen {
				return services.SettingItem{}, services.ErrSettingNotFound
			}
			return services.SettingItem{Key: key, Value: "1", UpdatedAt: now}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/settings/shop-open", nil)
	rr := httptest.NewRecorder()
	settingsRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload settingPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Key != "shop-open" || payload.Value != "1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSettingsHandlersHidesNonPublicKeys(t *testing.T) {
	service := &stubSettingsService{
		getPublicFn: func(ctx context.Context, key string) (services.SettingItem, error) {
			return services.SettingItem{}, services.ErrSettingForbidden
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/settings/internal-secret", nil)
	rr := httptest.NewRecorder()
	settingsRouter(service).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected non-public key to read as 404, got %d", rr.Code)
	}
}
