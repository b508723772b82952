package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	SortOrder        = domain.SortOrder
	Category         = domain.Category
	Tag              = domain.Tag
	OptionType       = domain.OptionType
	OptionItem       = domain.OptionItem
	ItemType         = domain.ItemType
	Order            = domain.Order
	OrderLine        = domain.OrderLine
	OrderStatus      = domain.OrderStatus
	OrderChannel     = domain.OrderChannel
	User             = domain.User
	SettingItem      = domain.SettingItem
	StatsGranularity = domain.StatsGranularity
	StatsSnapshot    = domain.StatsSnapshot
	UserStatistics   = domain.UserStatistics
	WaitEstimate     = domain.WaitEstimate
	AuditLogEntry    = domain.AuditLogEntry
	ExportArtifact   = domain.ExportArtifact
)

// CatalogService exposes the browsable menu.
type CatalogService interface {
	ListItems(ctx context.Context, filter CatalogItemFilter) ([]ItemType, error)
	GetItem(ctx context.Context, itemTypeID string) (CatalogItemDetail, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListTags(ctx context.Context) ([]Tag, error)
	ListOptionTypes(ctx context.Context) ([]OptionType, error)
	SetItemSoldOut(ctx context.Context, cmd SetSoldOutCommand) error
}

// CatalogItemFilter narrows public item listings.
type CatalogItemFilter struct {
	CategoryID     string
	TagID          string
	IncludeSoldOut bool
	Limit          int
}

// CatalogItemDetail is an item type joined with its resolved option types.
type CatalogItemDetail struct {
	Item        ItemType
	OptionTypes []OptionType
	Tags        []Tag
}

// SetSoldOutCommand flips the sold-out flag on an item type.
type SetSoldOutCommand struct {
	ItemTypeID string
	SoldOut    bool
	ActorID    string
}

// OrderService orchestrates order placement and lifecycle transitions.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, query GetOrderQuery) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	ListForUser(ctx context.Context, userID string, limit int) ([]Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) error
	UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error)
	TodayOrders(ctx context.Context) ([]Order, error)
	ActiveOrders(ctx context.Context) ([]Order, error)
	EstimateWait(ctx context.Context, orderID string) (WaitEstimate, error)
}

// CreateOrderLineInput is one requested line of a new order.
type CreateOrderLineInput struct {
	ItemTypeID    string
	OptionItemIDs []string
	Amount        int
}

// CreateOrderCommand captures a new order request. UserID is set for online
// orders; OnSiteName for staff-entered walk-in orders.
type CreateOrderCommand struct {
	UserID       string
	OnSiteName   string
	Channel      OrderChannel
	Type         domain.OrderType
	DeliveryRoom string
	Lines        []CreateOrderLineInput
	ActorID      string
}

// GetOrderQuery loads one order with ownership enforcement.
type GetOrderQuery struct {
	OrderID     string
	RequesterID string
	Staff       bool
}

// CancelOrderCommand removes a not-yet-completed order.
type CancelOrderCommand struct {
	OrderID     string
	RequesterID string
	Staff       bool
}

// UpdateFulfillmentCommand patches an order's status and/or paid flag.
type UpdateFulfillmentCommand struct {
	OrderID string
	Status  *OrderStatus
	Paid    *bool
	ActorID string
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// OrderEventMessage is the wire payload for published order events.
type OrderEventMessage struct {
	Event      string    `json:"event"`
	OrderID    string    `json:"orderId"`
	Number     string    `json:"number"`
	Channel    string    `json:"channel"`
	Status     string    `json:"status"`
	Paid       bool      `json:"paid"`
	OccurredAt time.Time `json:"occurredAt"`
}

// QuotaService answers "may this subject place an order right now".
type QuotaService interface {
	CheckEligibility(ctx context.Context, query EligibilityQuery) (Eligibility, error)
}

// EligibilityQuery describes a prospective order.
type EligibilityQuery struct {
	UserID     string
	OnSiteName string
	Channel    OrderChannel
	Lines      []CreateOrderLineInput
}

// EligibilityReason enumerates why an order may be refused.
type EligibilityReason string

const (
	ReasonShopClosed         EligibilityReason = "shop_closed"
	ReasonUserBlocked        EligibilityReason = "user_blocked"
	ReasonActiveOrderExists  EligibilityReason = "active_order_exists"
	ReasonNameUnverifiable   EligibilityReason = "name_unverifiable"
	ReasonChannelQuotaFull   EligibilityReason = "channel_quota_exceeded"
	ReasonItemSoldOut        EligibilityReason = "item_sold_out"
	ReasonOrderQuotaExceeded EligibilityReason = "order_quota_exceeded"
)

// Eligibility is the outcome of a quota check. Reason is set when not allowed.
type Eligibility struct {
	Allowed bool
	Reason  EligibilityReason
	Detail  string
	// ResolvedUserID carries the account matched by an on-site name, when any.
	ResolvedUserID string
}

// StatisticsService computes cached sales statistics.
type StatisticsService interface {
	Snapshot(ctx context.Context, query StatsQuery) (StatsSnapshot, error)
	ForUser(ctx context.Context, userID string) (UserStatistics, error)
}

// StatsQuery selects the aggregation granularity and bucket count.
type StatsQuery struct {
	Granularity StatsGranularity
	Limit       int
}

// UserService manages campus account projections.
type UserService interface {
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (User, error)
	Get(ctx context.Context, userID string) (User, error)
	Delete(ctx context.Context, cmd DeleteAccountCommand) error
	SetBlocked(ctx context.Context, cmd SetBlockedCommand) error
}

// EnsureProfileCommand mirrors verified SSO claims into the user store.
type EnsureProfileCommand struct {
	UserID       string
	Name         string
	PhoneticName string
	Phone        string
	Permissions  []string
}

// DeleteAccountCommand removes an account. Self-service deletion is refused
// while the user still has an active order.
type DeleteAccountCommand struct {
	UserID  string
	ActorID string
	Staff   bool
}

// SetBlockedCommand toggles a user's blocked flag.
type SetBlockedCommand struct {
	UserID  string
	Blocked bool
	ActorID string
}

// SettingsService reads and writes runtime-tunable settings.
type SettingsService interface {
	Get(ctx context.Context, key string) (SettingItem, error)
	GetPublic(ctx context.Context, key string) (SettingItem, error)
	List(ctx context.Context) ([]SettingItem, error)
	Set(ctx context.Context, cmd UpdateSettingCommand) (SettingItem, error)
}

// UpdateSettingCommand upserts one setting.
type UpdateSettingCommand struct {
	Key     string
	Value   string
	ActorID string
}

// ExportService issues short-lived export tokens and renders statistics workbooks.
type ExportService interface {
	IssueToken(ctx context.Context, cmd IssueExportTokenCommand) (ExportToken, error)
	Export(ctx context.Context, token string) (ExportArtifact, error)
}

// IssueExportTokenCommand requests a one-shot export token.
type IssueExportTokenCommand struct {
	ActorID     string
	Granularity StatsGranularity
	Limit       int
}

// ExportToken is a signed, short-lived statistics export grant.
type ExportToken struct {
	Token     string
	ExpiresAt time.Time
}

// AuditLogService records and lists staff actions.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error)
}

// AuditLogRecord is the write-side shape for audit entries.
type AuditLogRecord struct {
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Severity  string
	RequestID string
}

// AuditLogFilter narrows audit trail reads.
type AuditLogFilter struct {
	TargetRef string
	Actor     string
	Action    string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// SystemService reports dependency health for liveness/readiness probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}

// PricingBreakdown itemises how a line price was derived.
type PricingBreakdown struct {
	BasePrice   decimal.Decimal
	SalePercent decimal.Decimal
	OptionDelta decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      int
	LineTotal   decimal.Decimal
}
