package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/auth"
	"github.com/campus-brew/api/internal/platform/httpx"
	"github.com/campus-brew/api/internal/services"
)

// MeHandlers exposes the authenticated user's profile, eligibility and history.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
	quota services.QuotaService
	stats services.StatisticsService
}

// NewMeHandlers constructs a new MeHandlers instance.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService, quota services.QuotaService, stats services.StatisticsService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
		quota: quota,
		stats: stats,
	}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.getProfile)
	r.Delete("/", h.deleteAccount)
	r.Get("/can-order", h.canOrder)
	r.Get("/statistics", h.getStatistics)
}

// getProfile syncs the verified SSO claims into the user store and returns the
// stored projection, so the first authenticated call creates the profile.
func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	user, err := h.users.EnsureProfile(ctx, services.EnsureProfileCommand{
		UserID:       strings.TrimSpace(identity.UID),
		Name:         strings.TrimSpace(identity.Name),
		PhoneticName: strings.TrimSpace(identity.PhoneticName),
		Phone:        strings.TrimSpace(identity.Phone),
		Permissions:  identity.Permissions,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, userResponse{User: buildUserPayload(user)})
}

func (h *MeHandlers) deleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	err := h.users.Delete(ctx, services.DeleteAccountCommand{
		UserID:  strings.TrimSpace(identity.UID),
		ActorID: strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) canOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.quota == nil {
		httpx.WriteError(ctx, w, httpx.NewError("quota_service_unavailable", "quota service unavailable", http.StatusServiceUnavailable))
		return
	}

	eligibility, err := h.quota.CheckEligibility(ctx, services.EligibilityQuery{
		UserID:  strings.TrimSpace(identity.UID),
		Channel: domain.ChannelOnline,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("quota_error", "failed to evaluate eligibility", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(ctx, w, http.StatusOK, eligibilityPayload{
		Allowed: eligibility.Allowed,
		Reason:  string(eligibility.Reason),
		Detail:  eligibility.Detail,
	})
}

func (h *MeHandlers) getStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "statistics service unavailable", http.StatusServiceUnavailable))
		return
	}

	stats, err := h.stats.ForUser(ctx, strings.TrimSpace(identity.UID))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_error", "failed to compute statistics", http.StatusInternalServerError))
		return
	}

	httpx.WriteJSON(ctx, w, http.StatusOK, userStatisticsPayload{
		TotalOrders: stats.TotalOrders,
		TotalCups:   stats.TotalCups,
		TotalSpent:  stats.TotalSpent.StringFixed(2),
		Deletable:   stats.Deletable,
	})
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

type userResponse struct {
	User userPayload `json:"user"`
}

type userPayload struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	PhoneticName string   `json:"phonetic_name,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	Blocked      bool     `json:"blocked"`
	CreatedAt    string   `json:"created_at,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}

type eligibilityPayload struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

type userStatisticsPayload struct {
	TotalOrders int    `json:"total_orders"`
	TotalCups   int    `json:"total_cups"`
	TotalSpent  string `json:"total_spent"`
	Deletable   bool   `json:"deletable"`
}

func buildUserPayload(user services.User) userPayload {
	return userPayload{
		ID:           user.ID,
		Name:         user.Name,
		PhoneticName: user.PhoneticName,
		Phone:        user.Phone,
		Permissions:  user.Permissions,
		Blocked:      user.Blocked,
		CreatedAt:    formatTime(user.CreatedAt),
		UpdatedAt:    formatTime(user.UpdatedAt),
	}
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	case errors.Is(err, services.ErrUserHasActiveOrder):
		httpx.WriteError(ctx, w, httpx.NewError("active_order_exists", "finish or cancel the current order first", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process user request", http.StatusInternalServerError))
	}
}
