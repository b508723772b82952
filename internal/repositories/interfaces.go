package repositories

import (
	"context"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	Orders() OrderRepository
	Users() UserRepository
	Settings() SettingsRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CatalogRepository bundles category/tag/option/item-type storage. Catalog reads
// return fully materialised value objects; option items travel with their type.
type CatalogRepository interface {
	ListCategories(ctx context.Context) ([]domain.Category, error)
	ListTags(ctx context.Context) ([]domain.Tag, error)

	ListOptionTypes(ctx context.Context) ([]domain.OptionType, error)
	GetOptionType(ctx context.Context, optionTypeID string) (domain.OptionType, error)

	ListItemTypes(ctx context.Context, filter ItemTypeFilter) ([]domain.ItemType, error)
	GetItemType(ctx context.Context, itemTypeID string) (domain.ItemType, error)
	UpsertItemType(ctx context.Context, item domain.ItemType) (domain.ItemType, error)
	SetItemSoldOut(ctx context.Context, itemTypeID string, soldOut bool, updatedAt time.Time) error
}

// OrderRepository persists order documents (lines embedded) and provides query
// helpers for users, staff views, and statistics.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	// Delete removes the order document entirely; embedded lines go with it.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, number string, createdAfter time.Time) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// UserRepository stores campus account projections.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// FindByName returns all users whose normalised name or phonetic name
	// matches exactly.
	FindByName(ctx context.Context, name string) ([]domain.User, error)
	Upsert(ctx context.Context, user domain.User) (domain.User, error)
	Delete(ctx context.Context, userID string) error
	SetBlocked(ctx context.Context, userID string, blocked bool, updatedAt time.Time) error
}

// SettingsRepository stores runtime-tunable key/value settings.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (domain.SettingItem, error)
	Set(ctx context.Context, item domain.SettingItem) error
	List(ctx context.Context) ([]domain.SettingItem, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) ([]domain.AuditLogEntry, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// ItemTypeFilter narrows catalog item listings.
type ItemTypeFilter struct {
	CategoryID      string
	IncludeSoldOut  bool
	TagID           string
	Limit           int
	UpdatedAfter    *time.Time
	IncludeArchived bool
}

// OrderListFilter narrows order listings. Zero values mean "no constraint".
type OrderListFilter struct {
	UserID       string
	OnSiteName   string
	Channel      *domain.OrderChannel
	Status       []domain.OrderStatus
	Paid         *bool
	CreatedRange domain.RangeQuery[time.Time]
	Sort         domain.SortOrder
	Limit        int
}

// AuditLogFilter narrows audit trail listings.
type AuditLogFilter struct {
	TargetRef string
	Actor     string
	Action    string
	DateRange domain.RangeQuery[time.Time]
	Limit     int
}
