package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
)

type quotaFixture struct {
	orders   *memOrderRepo
	users    *memUserRepo
	settings *memSettingsRepo
	catalog  *memCatalogRepo
	now      time.Time
}

func newQuotaFixture(t *testing.T) *quotaFixture {
	t.Helper()
	f := &quotaFixture{
		orders:   newMemOrderRepo(),
		users:    newMemUserRepo(),
		settings: newMemSettingsRepo(setting(domain.SettingShopOpen, "1")),
		catalog:  newMemCatalogRepo(),
		now:      time.Date(2025, 4, 1, 11, 0, 0, 0, time.UTC),
	}
	f.catalog.items["latte"] = domain.ItemType{ID: "latte", Name: "Latte"}
	f.catalog.items["mocha"] = domain.ItemType{ID: "mocha", Name: "Mocha", SoldOut: true}
	return f
}

func (f *quotaFixture) service(t *testing.T, opts ...func(*QuotaServiceDeps)) QuotaService {
	t.Helper()
	deps := QuotaServiceDeps{
		Orders:   f.orders,
		Users:    f.users,
		Settings: f.settings,
		Catalog:  f.catalog,
		Location: time.UTC,
		Clock:    fixedClock(f.now),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewQuotaService(deps)
	if err != nil {
		t.Fatalf("new quota service: %v", err)
	}
	return svc
}

func onlineQuery(lines ...CreateOrderLineInput) EligibilityQuery {
	if len(lines) == 0 {
		lines = []CreateOrderLineInput{{ItemTypeID: "latte", Amount: 1}}
	}
	return EligibilityQuery{UserID: "u1", Channel: domain.ChannelOnline, Lines: lines}
}

func TestCheckEligibilityAllowsSimpleOrder(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1", Name: "山田 花子"}

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed, got %+v", result)
	}
	if result.ResolvedUserID != "u1" {
		t.Fatalf("expected resolved user u1, got %q", result.ResolvedUserID)
	}
}

func TestCheckEligibilityShopClosedWinsOverEverything(t *testing.T) {
	f := newQuotaFixture(t)
	f.settings.settings[domain.SettingShopOpen] = setting(domain.SettingShopOpen, "0")
	f.users.users["u1"] = domain.User{ID: "u1", Blocked: true}

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Allowed || result.Reason != ReasonShopClosed {
		t.Fatalf("expected shop closed, got %+v", result)
	}
}

func TestCheckEligibilityMissingShopOpenMeansClosed(t *testing.T) {
	f := newQuotaFixture(t)
	delete(f.settings.settings, domain.SettingShopOpen)

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonShopClosed {
		t.Fatalf("expected shop closed, got %+v", result)
	}
}

func TestCheckEligibilityBlockedUser(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1", Blocked: true}

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonUserBlocked {
		t.Fatalf("expected blocked, got %+v", result)
	}
}

func TestCheckEligibilityActiveWaitingOrder(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1"}
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "u1", Status: domain.OrderStatusWaiting,
		Channel: domain.ChannelOnline, CreatedAt: f.now.Add(-time.Hour),
	}

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonActiveOrderExists {
		t.Fatalf("expected active order, got %+v", result)
	}
}

func TestCheckEligibilityDoneUnpaidStillBlocks(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1"}
	f.orders.orders["ord_1"] = domain.Order{
		ID: "ord_1", UserID: "u1", Status: domain.OrderStatusDone, Paid: false,
		Channel: domain.ChannelOnline, CreatedAt: f.now.Add(-time.Hour),
	}

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonActiveOrderExists {
		t.Fatalf("expected active order for unpaid-done, got %+v", result)
	}

	// With the relaxed policy the same order no longer blocks.
	relaxed := f.service(t, func(deps *QuotaServiceDeps) { deps.UnpaidDoneIsTerminal = true })
	result, err = relaxed.CheckEligibility(context.Background(), onlineQuery())
	if err != nil {
		t.Fatalf("check relaxed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed under relaxed policy, got %+v", result)
	}
}

func TestCheckEligibilityOnSiteNameResolution(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1", Name: "山田 花子", PhoneticName: "ヤマダ ハナコ"}
	f.users.users["u2"] = domain.User{ID: "u2", Name: "佐藤 太郎", PhoneticName: "サトウ タロウ"}

	svc := f.service(t)
	query := EligibilityQuery{
		Channel:    domain.ChannelOnSite,
		OnSiteName: "山田 花子",
		Lines:      []CreateOrderLineInput{{ItemTypeID: "latte", Amount: 1}},
	}

	// The registered spelling resolves directly.
	result, err := svc.CheckEligibility(context.Background(), query)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !result.Allowed || result.ResolvedUserID != "u1" {
		t.Fatalf("expected resolution to u1, got %+v", result)
	}

	// Half-width kana input width-folds and matches the phonetic name.
	query.OnSiteName = "ﾔﾏﾀﾞ ﾊﾅｺ"
	result, err = svc.CheckEligibility(context.Background(), query)
	if err != nil {
		t.Fatalf("check phonetic: %v", err)
	}
	if !result.Allowed || result.ResolvedUserID != "u1" {
		t.Fatalf("expected phonetic resolution to u1, got %+v", result)
	}

	// Unknown walk-in names order unbound.
	query.OnSiteName = "鈴木 一郎"
	result, err = svc.CheckEligibility(context.Background(), query)
	if err != nil {
		t.Fatalf("check unknown: %v", err)
	}
	if !result.Allowed || result.ResolvedUserID != "" {
		t.Fatalf("expected unbound allow, got %+v", result)
	}

	// Ambiguous names cannot be verified against the active-order rule.
	f.users.users["u3"] = domain.User{ID: "u3", Name: "山田 花子"}
	query.OnSiteName = "山田 花子"
	result, err = svc.CheckEligibility(context.Background(), query)
	if err != nil {
		t.Fatalf("check ambiguous: %v", err)
	}
	if result.Reason != ReasonNameUnverifiable {
		t.Fatalf("expected unverifiable, got %+v", result)
	}
}

func TestCheckEligibilityChannelQuota(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1"}
	f.settings.settings[domain.SettingOnlineQuota] = setting(domain.SettingOnlineQuota, "5")
	f.orders.orders["ord_prev"] = domain.Order{
		ID: "ord_prev", UserID: "u9", Status: domain.OrderStatusDone, Paid: true,
		Channel: domain.ChannelOnline, CreatedAt: f.now.Add(-2 * time.Hour),
		Lines: []domain.OrderLine{{Amount: 4}},
	}
	// Yesterday's cups do not count against today's quota.
	f.orders.orders["ord_old"] = domain.Order{
		ID: "ord_old", UserID: "u8", Status: domain.OrderStatusDone, Paid: true,
		Channel: domain.ChannelOnline, CreatedAt: f.now.Add(-30 * time.Hour),
		Lines: []domain.OrderLine{{Amount: 4}},
	}

	svc := f.service(t)
	result, err := svc.CheckEligibility(context.Background(), onlineQuery(CreateOrderLineInput{ItemTypeID: "latte", Amount: 2}))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonChannelQuotaFull {
		t.Fatalf("expected channel quota full, got %+v", result)
	}

	result, err = svc.CheckEligibility(context.Background(), onlineQuery(CreateOrderLineInput{ItemTypeID: "latte", Amount: 1}))
	if err != nil {
		t.Fatalf("check within quota: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected allowed within quota, got %+v", result)
	}
}

func TestCheckEligibilitySoldOutItem(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1"}

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery(CreateOrderLineInput{ItemTypeID: "mocha", Amount: 1}))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonItemSoldOut {
		t.Fatalf("expected sold out, got %+v", result)
	}
}

func TestCheckEligibilityOrderQuota(t *testing.T) {
	f := newQuotaFixture(t)
	f.users.users["u1"] = domain.User{ID: "u1"}
	f.settings.settings[domain.SettingOrderQuota] = setting(domain.SettingOrderQuota, "3")

	result, err := f.service(t).CheckEligibility(context.Background(), onlineQuery(
		CreateOrderLineInput{ItemTypeID: "latte", Amount: 2},
		CreateOrderLineInput{ItemTypeID: "latte", Amount: 2},
	))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.Reason != ReasonOrderQuotaExceeded {
		t.Fatalf("expected order quota exceeded, got %+v", result)
	}
}

func TestCheckEligibilityRejectsUnknownChannel(t *testing.T) {
	f := newQuotaFixture(t)
	_, err := f.service(t).CheckEligibility(context.Background(), EligibilityQuery{Channel: "phone"})
	if !errors.Is(err, ErrQuotaInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
