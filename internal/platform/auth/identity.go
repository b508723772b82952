package auth

import (
	"context"
	"strings"
)

// Permission tags recognised by the API when checking authorisation boundaries.
const (
	// PermissionAdminManage grants access to order management and settings.
	PermissionAdminManage = "admin.manage"
	// PermissionAdminCMS grants access to statistics and exports.
	PermissionAdminCMS = "admin.cms"
)

// Identity captures the authenticated principal extracted from a campus SSO token.
type Identity struct {
	UID          string
	Name         string
	PhoneticName string
	Email        string
	Phone        string
	Permissions  []string
}

// HasPermission reports whether the identity carries the requested permission tag.
func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	permission = strings.ToLower(strings.TrimSpace(permission))
	if permission == "" {
		return false
	}
	for _, p := range i.Permissions {
		if strings.EqualFold(p, permission) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether the identity includes any of the provided permissions.
func (i *Identity) HasAnyPermission(permissions ...string) bool {
	for _, permission := range permissions {
		if i.HasPermission(permission) {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/campus-brew/api/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
