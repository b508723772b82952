package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/repositories"
)

var (
	// ErrSettingInvalidInput signals a malformed key or value.
	ErrSettingInvalidInput = errors.New("settings: invalid input")
	// ErrSettingNotFound indicates the setting does not exist.
	ErrSettingNotFound = errors.New("settings: not found")
	// ErrSettingForbidden indicates the key is not readable without staff permissions.
	ErrSettingForbidden = errors.New("settings: key not public")
)

// publicSettingKeys are readable without authentication so the ordering UI can
// render availability before login.
var publicSettingKeys = map[string]bool{
	domain.SettingShopOpen:    true,
	domain.SettingOnlineQuota: true,
	domain.SettingOnSiteQuota: true,
	domain.SettingOrderQuota:  true,
}

// SettingsServiceDeps bundles collaborators for the settings service.
type SettingsServiceDeps struct {
	Settings repositories.SettingsRepository
	Audit    AuditLogService
	Clock    func() time.Time
}

type settingsService struct {
	settings repositories.SettingsRepository
	audit    AuditLogService
	clock    func() time.Time
}

// NewSettingsService constructs the settings service.
func NewSettingsService(deps SettingsServiceDeps) (SettingsService, error) {
	if deps.Settings == nil {
		return nil, errors.New("settings service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &settingsService{
		settings: deps.Settings,
		audit:    deps.Audit,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

func (s *settingsService) Get(ctx context.Context, key string) (SettingItem, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return SettingItem{}, fmt.Errorf("%w: key is required", ErrSettingInvalidInput)
	}
	item, err := s.settings.Get(ctx, trimmed)
	if err != nil {
		return SettingItem{}, mapSettingsRepositoryError(err)
	}
	return item, nil
}

func (s *settingsService) GetPublic(ctx context.Context, key string) (SettingItem, error) {
	trimmed := strings.TrimSpace(key)
	if !publicSettingKeys[trimmed] {
		return SettingItem{}, fmt.Errorf("%w: %q", ErrSettingForbidden, trimmed)
	}
	return s.Get(ctx, trimmed)
}

func (s *settingsService) List(ctx context.Context) ([]SettingItem, error) {
	items, err := s.settings.List(ctx)
	if err != nil {
		return nil, mapSettingsRepositoryError(err)
	}
	return items, nil
}

func (s *settingsService) Set(ctx context.Context, cmd UpdateSettingCommand) (SettingItem, error) {
	key := strings.TrimSpace(cmd.Key)
	value := strings.TrimSpace(cmd.Value)
	if key == "" {
		return SettingItem{}, fmt.Errorf("%w: key is required", ErrSettingInvalidInput)
	}
	if err := validateSettingValue(key, value); err != nil {
		return SettingItem{}, err
	}

	item := SettingItem{Key: key, Value: value, UpdatedAt: s.clock()}
	if err := s.settings.Set(ctx, item); err != nil {
		return SettingItem{}, mapSettingsRepositoryError(err)
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "staff",
			Action:    "settings.update",
			TargetRef: "settings/" + key,
			Metadata:  map[string]any{"value": value},
		})
	}
	return item, nil
}

func validateSettingValue(key, value string) error {
	switch key {
	case domain.SettingShopOpen:
		if value != "0" && value != "1" {
			return fmt.Errorf("%w: %s must be \"0\" or \"1\"", ErrSettingInvalidInput, key)
		}
	case domain.SettingOnlineQuota, domain.SettingOnSiteQuota, domain.SettingOrderQuota:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", ErrSettingInvalidInput, key)
		}
	}
	return nil
}

// SettingInt parses a quota-style setting value. Missing or malformed values
// yield the fallback.
func SettingInt(item SettingItem, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(item.Value))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// SettingBool reports whether the value is the literal "1".
func SettingBool(item SettingItem) bool {
	return strings.TrimSpace(item.Value) == "1"
}

func mapSettingsRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrSettingNotFound, err)
	}
	return err
}
