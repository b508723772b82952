package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/textutil"
	"github.com/campus-brew/api/internal/repositories"
)

// ErrQuotaInvalidInput signals a malformed eligibility query.
var ErrQuotaInvalidInput = errors.New("quota: invalid input")

// QuotaServiceDeps bundles collaborators for the quota service.
type QuotaServiceDeps struct {
	Orders   repositories.OrderRepository
	Users    repositories.UserRepository
	Settings repositories.SettingsRepository
	Catalog  repositories.CatalogRepository
	// Location is the shop timezone; daily quotas reset at its midnight.
	Location *time.Location
	// DefaultOrderQuota caps per-order item quantity when the setting is absent.
	DefaultOrderQuota int
	// UnpaidDoneIsTerminal treats completed-but-unpaid orders as no longer
	// blocking a new order.
	UnpaidDoneIsTerminal bool
	Clock                func() time.Time
}

type quotaService struct {
	orders               repositories.OrderRepository
	users                repositories.UserRepository
	settings             repositories.SettingsRepository
	catalog              repositories.CatalogRepository
	location             *time.Location
	defaultOrderQuota    int
	unpaidDoneIsTerminal bool
	clock                func() time.Time
}

// NewQuotaService constructs the eligibility checker.
func NewQuotaService(deps QuotaServiceDeps) (QuotaService, error) {
	if deps.Orders == nil {
		return nil, errors.New("quota service: order repository is required")
	}
	if deps.Users == nil {
		return nil, errors.New("quota service: user repository is required")
	}
	if deps.Settings == nil {
		return nil, errors.New("quota service: settings repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("quota service: catalog repository is required")
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	defaultOrderQuota := deps.DefaultOrderQuota
	if defaultOrderQuota <= 0 {
		defaultOrderQuota = 999
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &quotaService{
		orders:               deps.Orders,
		users:                deps.Users,
		settings:             deps.Settings,
		catalog:              deps.Catalog,
		location:             location,
		defaultOrderQuota:    defaultOrderQuota,
		unpaidDoneIsTerminal: deps.UnpaidDoneIsTerminal,
		clock:                clock,
	}, nil
}

// CheckEligibility runs the refusal checks in a fixed order so callers always
// see the most fundamental reason first: shop closed, blocked account, an
// order already in flight, exhausted channel quota, sold-out items, and
// finally the per-order quantity cap.
func (s *quotaService) CheckEligibility(ctx context.Context, query EligibilityQuery) (Eligibility, error) {
	switch query.Channel {
	case domain.ChannelOnline:
		if strings.TrimSpace(query.UserID) == "" {
			return Eligibility{}, fmt.Errorf("%w: online orders require a user id", ErrQuotaInvalidInput)
		}
	case domain.ChannelOnSite:
	default:
		return Eligibility{}, fmt.Errorf("%w: unknown channel %q", ErrQuotaInvalidInput, query.Channel)
	}

	open, err := s.shopOpen(ctx)
	if err != nil {
		return Eligibility{}, err
	}
	if !open {
		return Eligibility{Reason: ReasonShopClosed, Detail: "shop is not accepting orders"}, nil
	}

	subjectID, refusal, err := s.resolveSubject(ctx, query)
	if err != nil {
		return Eligibility{}, err
	}
	if refusal != nil {
		return *refusal, nil
	}

	if subjectID != "" {
		active, err := s.hasActiveOrder(ctx, subjectID)
		if err != nil {
			return Eligibility{}, err
		}
		if active {
			return Eligibility{Reason: ReasonActiveOrderExists, Detail: "an order is already in progress", ResolvedUserID: subjectID}, nil
		}
	}

	requested := 0
	for _, line := range query.Lines {
		requested += line.Amount
	}

	exceeded, detail, err := s.channelQuotaExceeded(ctx, query.Channel, requested)
	if err != nil {
		return Eligibility{}, err
	}
	if exceeded {
		return Eligibility{Reason: ReasonChannelQuotaFull, Detail: detail, ResolvedUserID: subjectID}, nil
	}

	if soldOut, name, err := s.anySoldOut(ctx, query.Lines); err != nil {
		return Eligibility{}, err
	} else if soldOut {
		return Eligibility{Reason: ReasonItemSoldOut, Detail: name + " is sold out", ResolvedUserID: subjectID}, nil
	}

	orderQuota, err := s.settingInt(ctx, domain.SettingOrderQuota, s.defaultOrderQuota)
	if err != nil {
		return Eligibility{}, err
	}
	if requested > orderQuota {
		return Eligibility{
			Reason:         ReasonOrderQuotaExceeded,
			Detail:         fmt.Sprintf("order quantity %d exceeds limit %d", requested, orderQuota),
			ResolvedUserID: subjectID,
		}, nil
	}

	return Eligibility{Allowed: true, ResolvedUserID: subjectID}, nil
}

// resolveSubject identifies which account, if any, the prospective order binds
// to. Online orders bind to the caller. On-site orders match the given name
// against registered accounts: no match places the order unbound, exactly one
// match binds it, and multiple matches refuse the order since the active-order
// rule cannot be verified.
func (s *quotaService) resolveSubject(ctx context.Context, query EligibilityQuery) (string, *Eligibility, error) {
	if query.Channel == domain.ChannelOnline {
		user, err := s.users.FindByID(ctx, query.UserID)
		if err != nil {
			if isNotFound(err) {
				// First order before the profile sync landed; allow.
				return query.UserID, nil, nil
			}
			return "", nil, err
		}
		if user.Blocked {
			return "", &Eligibility{Reason: ReasonUserBlocked, Detail: "account is blocked"}, nil
		}
		return user.ID, nil, nil
	}

	name := textutil.NormalizeName(query.OnSiteName)
	if name == "" {
		return "", nil, nil
	}
	matches, err := s.users.FindByName(ctx, name)
	if err != nil {
		return "", nil, err
	}
	switch len(matches) {
	case 0:
		return "", nil, nil
	case 1:
		if matches[0].Blocked {
			return "", &Eligibility{Reason: ReasonUserBlocked, Detail: "account is blocked"}, nil
		}
		return matches[0].ID, nil, nil
	default:
		return "", &Eligibility{
			Reason: ReasonNameUnverifiable,
			Detail: fmt.Sprintf("%d accounts share this name", len(matches)),
		}, nil
	}
}

func (s *quotaService) shopOpen(ctx context.Context) (bool, error) {
	item, err := s.settings.Get(ctx, domain.SettingShopOpen)
	if err != nil {
		if isNotFound(err) {
			// No explicit flag yet means the shop never opened.
			return false, nil
		}
		return false, err
	}
	return SettingBool(item), nil
}

func (s *quotaService) hasActiveOrder(ctx context.Context, userID string) (bool, error) {
	waiting, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: userID,
		Status: []domain.OrderStatus{domain.OrderStatusWaiting},
		Limit:  1,
	})
	if err != nil {
		return false, err
	}
	if len(waiting) > 0 {
		return true, nil
	}
	if s.unpaidDoneIsTerminal {
		return false, nil
	}

	unpaid := false
	doneUnpaid, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: userID,
		Status: []domain.OrderStatus{domain.OrderStatusDone},
		Paid:   &unpaid,
		Limit:  1,
	})
	if err != nil {
		return false, err
	}
	return len(doneUnpaid) > 0, nil
}

func (s *quotaService) channelQuotaExceeded(ctx context.Context, channel domain.OrderChannel, requested int) (bool, string, error) {
	key := domain.SettingOnlineQuota
	if channel == domain.ChannelOnSite {
		key = domain.SettingOnSiteQuota
	}

	item, err := s.settings.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			// Absent quota means unlimited.
			return false, "", nil
		}
		return false, "", err
	}
	quota := SettingInt(item, -1)
	if quota < 0 {
		return false, "", nil
	}

	used, err := s.cupsOrderedToday(ctx, channel)
	if err != nil {
		return false, "", err
	}
	if used+requested > quota {
		return true, fmt.Sprintf("%d of %d cups already ordered today", used, quota), nil
	}
	return false, "", nil
}

func (s *quotaService) cupsOrderedToday(ctx context.Context, channel domain.OrderChannel) (int, error) {
	dayStart := s.dayStart()
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		Channel:      &channel,
		CreatedRange: domain.RangeQuery[time.Time]{From: &dayStart},
	})
	if err != nil {
		return 0, err
	}
	cups := 0
	for _, order := range orders {
		cups += order.CupCount()
	}
	return cups, nil
}

func (s *quotaService) anySoldOut(ctx context.Context, lines []CreateOrderLineInput) (bool, string, error) {
	for _, line := range lines {
		item, err := s.catalog.GetItemType(ctx, line.ItemTypeID)
		if err != nil {
			return false, "", err
		}
		if item.SoldOut {
			return true, item.Name, nil
		}
	}
	return false, "", nil
}

func (s *quotaService) settingInt(ctx context.Context, key string, fallback int) (int, error) {
	item, err := s.settings.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return fallback, nil
		}
		return 0, err
	}
	return SettingInt(item, fallback), nil
}

func (s *quotaService) dayStart() time.Time {
	now := s.clock().In(s.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location).UTC()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
