package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campus-brew/api/internal/platform/httpx"
	"github.com/campus-brew/api/internal/services"
)

// SettingsHandlers exposes whitelisted setting reads to unauthenticated clients
// so the ordering page can show open/closed state and remaining quota hints.
type SettingsHandlers struct {
	settings services.SettingsService
}

// NewSettingsHandlers constructs a new SettingsHandlers instance.
func NewSettingsHandlers(settings services.SettingsService) *SettingsHandlers {
	return &SettingsHandlers{settings: settings}
}

// Routes registers the public /settings endpoints.
func (h *SettingsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{key}", h.getSetting)
}

func (h *SettingsHandlers) getSetting(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("settings_unavailable", "settings service unavailable", http.StatusServiceUnavailable))
		return
	}

	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "setting key is required", http.StatusBadRequest))
		return
	}

	item, err := h.settings.GetPublic(ctx, key)
	if err != nil {
		writeSettingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, buildSettingPayload(item))
}

type settingPayload struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildSettingPayload(item services.SettingItem) settingPayload {
	return settingPayload{
		Key:       item.Key,
		Value:     item.Value,
		UpdatedAt: formatTime(item.UpdatedAt),
	}
}

func writeSettingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSettingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrSettingNotFound), errors.Is(err, services.ErrSettingForbidden):
		// Non-public keys answer exactly like missing ones.
		httpx.WriteError(ctx, w, httpx.NewError("setting_not_found", "setting not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("settings_error", "failed to read setting", http.StatusInternalServerError))
	}
}
