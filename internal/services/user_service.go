package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/repositories"
)

var (
	// ErrUserInvalidInput signals the caller provided invalid data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the account could not be located.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserHasActiveOrder blocks self-service deletion while an order is in flight.
	ErrUserHasActiveOrder = errors.New("user: active order exists")
)

// UserServiceDeps bundles collaborators for the user service.
type UserServiceDeps struct {
	Users  repositories.UserRepository
	Orders repositories.OrderRepository
	Audit  AuditLogService
	// UnpaidDoneIsTerminal mirrors the quota policy for the deletion guard.
	UnpaidDoneIsTerminal bool
	Clock                func() time.Time
}

type userService struct {
	users                repositories.UserRepository
	orders               repositories.OrderRepository
	audit                AuditLogService
	unpaidDoneIsTerminal bool
	clock                func() time.Time
}

// NewUserService constructs the user service.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("user service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &userService{
		users:                deps.Users,
		orders:               deps.Orders,
		audit:                deps.Audit,
		unpaidDoneIsTerminal: deps.UnpaidDoneIsTerminal,
		clock:                func() time.Time { return clock().UTC() },
	}, nil
}

// EnsureProfile mirrors verified SSO claims into the user store. Called on
// every authenticated /me read so the projection tracks the identity provider
// without a separate sync job.
func (s *userService) EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	existing, err := s.users.FindByID(ctx, userID)
	if err != nil && !isNotFound(err) {
		return User{}, err
	}

	user := User{
		ID:           userID,
		Name:         strings.TrimSpace(cmd.Name),
		PhoneticName: strings.TrimSpace(cmd.PhoneticName),
		Phone:        strings.TrimSpace(cmd.Phone),
		Permissions:  normalizePermissions(cmd.Permissions),
		Blocked:      existing.Blocked,
		CreatedAt:    existing.CreatedAt,
	}
	if user.Name == "" {
		user.Name = existing.Name
	}

	if existing.ID != "" && profileUnchanged(existing, user) {
		return existing, nil
	}
	return s.users.Upsert(ctx, user)
}

func (s *userService) Get(ctx context.Context, userID string) (User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, trimmed)
	if err != nil {
		if isNotFound(err) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, trimmed)
		}
		return User{}, err
	}
	return user, nil
}

// Delete removes the account. Self-service deletion is refused while the user
// still has a non-terminal order, otherwise staff could lose track of who owes
// payment for cups already poured.
func (s *userService) Delete(ctx context.Context, cmd DeleteAccountCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return err
	}

	if !cmd.Staff {
		active, err := s.hasNonTerminalOrder(ctx, userID)
		if err != nil {
			return err
		}
		if active {
			return fmt.Errorf("%w: finish or cancel the current order first", ErrUserHasActiveOrder)
		}
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}

	if s.audit != nil {
		actorType := "user"
		if cmd.Staff {
			actorType = "staff"
		}
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: actorType,
			Action:    "user.delete",
			TargetRef: "users/" + userID,
		})
	}
	return nil
}

func (s *userService) SetBlocked(ctx context.Context, cmd SetBlockedCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if err := s.users.SetBlocked(ctx, userID, cmd.Blocked, s.clock()); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return err
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "staff",
			Action:    "user.set_blocked",
			TargetRef: "users/" + userID,
			Metadata:  map[string]any{"blocked": cmd.Blocked},
		})
	}
	return nil
}

func (s *userService) hasNonTerminalOrder(ctx context.Context, userID string) (bool, error) {
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{UserID: userID})
	if err != nil {
		return false, err
	}
	for _, order := range orders {
		if !order.Terminal(s.unpaidDoneIsTerminal) {
			return true, nil
		}
	}
	return false, nil
}

func normalizePermissions(permissions []string) []string {
	seen := make(map[string]bool, len(permissions))
	out := make([]string, 0, len(permissions))
	for _, p := range permissions {
		trimmed := strings.ToLower(strings.TrimSpace(p))
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func profileUnchanged(a, b domain.User) bool {
	if a.Name != b.Name || a.PhoneticName != b.PhoneticName || a.Phone != b.Phone {
		return false
	}
	if len(a.Permissions) != len(b.Permissions) {
		return false
	}
	for i := range a.Permissions {
		if a.Permissions[i] != b.Permissions[i] {
			return false
		}
	}
	return true
}
