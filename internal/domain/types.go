package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Category groups item types for catalog browsing.
type Category struct {
	ID   string
	Name string
}

// Tag is a decorative label attached to item types (e.g. "seasonal").
type Tag struct {
	ID    string
	Name  string
	Color string
}

// OptionItem is one selectable value of a customization axis. PriceChange is a
// per-unit delta and may be negative.
type OptionItem struct {
	ID          string
	TypeID      string
	Name        string
	IsDefault   bool
	PriceChange decimal.Decimal
}

// OptionType is a customization axis (e.g. sugar level) with its ordered values.
// Exactly one item carries the IsDefault flag.
type OptionType struct {
	ID    string
	Name  string
	Items []OptionItem
}

// ItemType is a purchasable catalog product.
// Invariants enforced at catalog-admin time: BasePrice >= 0, SalePercent in [0,1].
type ItemType struct {
	ID               string
	CategoryID       string
	Name             string
	Description      string
	ShortDescription string
	ImagePath        string
	BasePrice        decimal.Decimal
	SalePercent      decimal.Decimal
	SoldOut          bool
	OptionTypeIDs    []string
	TagIDs           []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OrderStatus enumerates lifecycle states for orders. Payment is tracked
// separately via Order.Paid; an order is terminal when done AND paid.
type OrderStatus string

const (
	// OrderStatusWaiting indicates the order has not been handed over yet.
	OrderStatusWaiting OrderStatus = "waiting"
	// OrderStatusDone indicates the order has been completed by staff.
	OrderStatusDone OrderStatus = "done"
)

// OrderChannel distinguishes the self-service online path from staff-entered
// walk-in orders. Each channel has an independent daily quota.
type OrderChannel string

const (
	// ChannelOnline is the self-service ordering path for authenticated users.
	ChannelOnline OrderChannel = "online"
	// ChannelOnSite is the staff-entered path for walk-in customers.
	ChannelOnSite OrderChannel = "onSite"
)

// OrderType describes how the order is handed over.
type OrderType string

const (
	// OrderTypePickUp means the customer collects the order at the counter.
	OrderTypePickUp OrderType = "pickUp"
	// OrderTypeDelivery means staff deliver the order to a room.
	OrderTypeDelivery OrderType = "delivery"
)

// OrderLine is one line of an order: an item type, the chosen option items
// (one per applicable option type) and a quantity.
type OrderLine struct {
	ID            string
	ItemTypeID    string
	ItemTypeName  string
	OptionItemIDs []string
	UnitPrice     decimal.Decimal
	Amount        int
}

// Order captures a placed order with its derived total and daily number.
// UserID is empty for on-site orders that could not be matched to an account.
type Order struct {
	ID           string
	Number       string
	UserID       string
	OnSiteName   string
	Channel      OrderChannel
	Type         OrderType
	DeliveryRoom string
	Status       OrderStatus
	Paid         bool
	TotalPrice   decimal.Decimal
	Lines        []OrderLine
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DoneAt       *time.Time
	PaidAt       *time.Time
}

// Terminal reports whether the order no longer gates new-order eligibility.
// Done-but-unpaid orders stay active unless unpaidDoneIsTerminal is set.
func (o Order) Terminal(unpaidDoneIsTerminal bool) bool {
	if o.Status != OrderStatusDone {
		return false
	}
	return o.Paid || unpaidDoneIsTerminal
}

// CupCount returns the total item quantity across all lines.
func (o Order) CupCount() int {
	total := 0
	for _, line := range o.Lines {
		total += line.Amount
	}
	return total
}

// User is the canonical projection of a campus SSO account.
type User struct {
	ID           string
	Name         string
	PhoneticName string
	Phone        string
	Permissions  []string
	Blocked      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPermission reports whether the user carries the given permission tag.
func (u User) HasPermission(tag string) bool {
	for _, p := range u.Permissions {
		if p == tag {
			return true
		}
	}
	return false
}

// SettingItem is a runtime-tunable key/value pair (quotas, shop-open flag).
type SettingItem struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Well-known setting keys.
const (
	// SettingShopOpen gates order creation; "1" means the shop accepts orders.
	SettingShopOpen = "shop-open"
	// SettingOnlineQuota caps the number of items ordered online per day.
	SettingOnlineQuota = "online-quota"
	// SettingOnSiteQuota caps the number of items ordered on site per day.
	SettingOnSiteQuota = "on-site-quota"
	// SettingOrderQuota caps the item quantity of a single order.
	SettingOrderQuota = "order-quota"
)

// StatsGranularity selects the time-grouping unit for statistics aggregation.
type StatsGranularity string

const (
	// StatsByDay buckets orders by calendar day.
	StatsByDay StatsGranularity = "day"
	// StatsByWeek buckets orders by the Monday of their week.
	StatsByWeek StatsGranularity = "week"
	// StatsByMonth buckets orders by the first day of their month.
	StatsByMonth StatsGranularity = "month"
	// StatsIndividual keys each order by its exact timestamp.
	StatsIndividual StatsGranularity = "individual"
)

// StatsSnapshot is a computed statistics report. Bucket labels are ISO dates
// ("YYYY-MM-DD"), or full timestamps for the individual granularity.
type StatsSnapshot struct {
	TodayRevenue     decimal.Decimal
	TodayOrders      int
	TodayCups        int
	TodayUniqueUsers int
	WeekRevenue      decimal.Decimal
	WeekRevenueRange string
	Revenue          map[string]decimal.Decimal
	Orders           map[string]int
	Cups             map[string]int
	UniqueUsers      map[string]int
	GeneratedAt      time.Time
}

// UserStatistics summarises a single user's order history.
type UserStatistics struct {
	TotalOrders int
	TotalCups   int
	TotalSpent  decimal.Decimal
	Deletable   bool
}

// WaitEstimate is the projected queue position and wait time for an order.
type WaitEstimate struct {
	Minutes       int
	PendingOrders int
	Number        string
	Status        *OrderStatus
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// AuditLogEntry stores normalized audit information for staff actions.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// ExportArtifact points at a generated workbook stored in the exports bucket.
type ExportArtifact struct {
	ObjectName  string
	DownloadURL string
	ExpiresAt   time.Time
}
