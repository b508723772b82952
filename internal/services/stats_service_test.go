package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
)

type statsClock struct {
	now time.Time
}

func (c *statsClock) Now() time.Time { return c.now }

func statsOrder(id, userID string, createdAt time.Time, paid bool, total string, cups int) domain.Order {
	order := domain.Order{
		ID:         id,
		UserID:     userID,
		Channel:    domain.ChannelOnline,
		Status:     domain.OrderStatusDone,
		Paid:       paid,
		TotalPrice: decimal.RequireFromString(total),
		Lines:      []domain.OrderLine{{Amount: cups}},
		CreatedAt:  createdAt,
	}
	return order
}

func newStatsService(t *testing.T, repo *memOrderRepo, clock *statsClock, ttl time.Duration) StatisticsService {
	t.Helper()
	svc, err := NewStatisticsService(StatisticsServiceDeps{
		Orders:   repo,
		Location: time.UTC,
		CacheTTL: ttl,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("new statistics service: %v", err)
	}
	return svc
}

func TestSnapshotDailyBuckets(t *testing.T) {
	// Tuesday 2025-04-01.
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		statsOrder("o1", "u1", now.Add(-2*time.Hour), true, "500", 2),
		statsOrder("o2", "u2", now.Add(-1*time.Hour), false, "300", 1),
		statsOrder("o3", "u1", now.AddDate(0, 0, -1), true, "250", 1),
		// Walk-in without an account: counted in orders/cups, not users.
		statsOrder("o4", "", now.Add(-30*time.Minute), true, "400", 1),
	)
	svc := newStatsService(t, repo, &statsClock{now: now}, time.Minute)

	snapshot, err := svc.Snapshot(context.Background(), StatsQuery{Granularity: domain.StatsByDay, Limit: 7})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snapshot.TodayOrders != 3 || snapshot.TodayCups != 4 {
		t.Fatalf("unexpected today counts: %+v", snapshot)
	}
	// Unpaid o2 contributes no revenue.
	if !snapshot.TodayRevenue.Equal(decimal.RequireFromString("900")) {
		t.Fatalf("expected today revenue 900 got %s", snapshot.TodayRevenue)
	}
	if snapshot.TodayUniqueUsers != 2 {
		t.Fatalf("expected 2 unique users today, got %d", snapshot.TodayUniqueUsers)
	}

	if snapshot.Orders["2025-04-01"] != 3 || snapshot.Orders["2025-03-31"] != 1 {
		t.Fatalf("unexpected daily buckets: %+v", snapshot.Orders)
	}
	if !snapshot.Revenue["2025-03-31"].Equal(decimal.RequireFromString("250")) {
		t.Fatalf("unexpected yesterday revenue: %s", snapshot.Revenue["2025-03-31"])
	}
	if snapshot.UniqueUsers["2025-04-01"] != 2 {
		t.Fatalf("expected anonymous order excluded from users, got %d", snapshot.UniqueUsers["2025-04-01"])
	}

	// Week starts Monday 2025-03-31 and includes both days.
	if snapshot.WeekRevenueRange != "2025-03-31 ~ 2025-04-06" {
		t.Fatalf("unexpected week range %q", snapshot.WeekRevenueRange)
	}
	if !snapshot.WeekRevenue.Equal(decimal.RequireFromString("1150")) {
		t.Fatalf("expected week revenue 1150 got %s", snapshot.WeekRevenue)
	}
}

func TestSnapshotWeekAndMonthLabels(t *testing.T) {
	now := time.Date(2025, 4, 9, 12, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		statsOrder("o1", "u1", time.Date(2025, 4, 8, 9, 0, 0, 0, time.UTC), true, "100", 1),
		statsOrder("o2", "u1", time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC), true, "100", 1),
	)
	clock := &statsClock{now: now}
	svc := newStatsService(t, repo, clock, time.Minute)
	ctx := context.Background()

	weekly, err := svc.Snapshot(ctx, StatsQuery{Granularity: domain.StatsByWeek, Limit: 30})
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if weekly.Orders["2025-04-07"] != 1 || weekly.Orders["2025-03-31"] != 1 {
		t.Fatalf("unexpected weekly buckets: %+v", weekly.Orders)
	}

	monthly, err := svc.Snapshot(ctx, StatsQuery{Granularity: domain.StatsByMonth, Limit: 30})
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if monthly.Orders["2025-04-01"] != 1 || monthly.Orders["2025-03-01"] != 1 {
		t.Fatalf("unexpected monthly buckets: %+v", monthly.Orders)
	}
}

func TestSnapshotLimitIsDaysForEveryGranularity(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		statsOrder("recent", "u1", now.AddDate(0, 0, -2), true, "100", 1),
		statsOrder("stale", "u1", now.AddDate(0, 0, -20), true, "100", 1),
	)
	svc := newStatsService(t, repo, &statsClock{now: now}, time.Minute)

	weekly, err := svc.Snapshot(context.Background(), StatsQuery{Granularity: domain.StatsByWeek, Limit: 7})
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	var total int
	for _, count := range weekly.Orders {
		total += count
	}
	if total != 1 {
		t.Fatalf("expected only the order within the 7-day window, got %+v", weekly.Orders)
	}
	if _, ok := weekly.Orders["2026-08-03"]; ok {
		t.Fatalf("order outside the window must not be bucketed: %+v", weekly.Orders)
	}
}

func TestSnapshotIndividualKeepsEveryOrderInWindow(t *testing.T) {
	now := time.Date(2025, 4, 1, 18, 0, 0, 0, time.UTC)
	orders := make([]domain.Order, 0, 10)
	for i := 0; i < 10; i++ {
		orders = append(orders, statsOrder(
			fmt.Sprintf("o%d", i), "u1",
			now.Add(-time.Duration(i+1)*time.Minute), true, "100", 1,
		))
	}
	repo := newMemOrderRepo(orders...)
	svc := newStatsService(t, repo, &statsClock{now: now}, time.Minute)

	snapshot, err := svc.Snapshot(context.Background(), StatsQuery{Granularity: domain.StatsIndividual, Limit: 7})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot.Orders) != 10 {
		t.Fatalf("expected all 10 orders in the window, got %d buckets", len(snapshot.Orders))
	}
}

func TestSnapshotIndividualLabels(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		statsOrder("o1", "u1", time.Date(2025, 4, 1, 9, 15, 30, 0, time.UTC), true, "100", 1),
	)
	svc := newStatsService(t, repo, &statsClock{now: now}, time.Minute)

	snapshot, err := svc.Snapshot(context.Background(), StatsQuery{Granularity: domain.StatsIndividual, Limit: 10})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.Orders["2025-04-01 09:15:30"] != 1 {
		t.Fatalf("unexpected individual buckets: %+v", snapshot.Orders)
	}
}

func TestSnapshotCachePerGranularityAndLimit(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(statsOrder("o1", "u1", now.Add(-time.Hour), true, "100", 1))
	clock := &statsClock{now: now}
	svc := newStatsService(t, repo, clock, 1200*time.Second)
	ctx := context.Background()

	first, err := svc.Snapshot(ctx, StatsQuery{Granularity: domain.StatsByDay, Limit: 7})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	// New data lands; the cached report is still served for this key.
	if err := repo.Insert(ctx, statsOrder("o2", "u2", now, true, "100", 1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	cached, err := svc.Snapshot(ctx, StatsQuery{Granularity: domain.StatsByDay, Limit: 7})
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if cached.TodayOrders != first.TodayOrders {
		t.Fatalf("expected cached snapshot, got %d orders", cached.TodayOrders)
	}

	// A different limit is a different cache key and sees the fresh data.
	other, err := svc.Snapshot(ctx, StatsQuery{Granularity: domain.StatsByDay, Limit: 14})
	if err != nil {
		t.Fatalf("other limit: %v", err)
	}
	if other.TodayOrders != 2 {
		t.Fatalf("expected fresh compute for new key, got %d", other.TodayOrders)
	}

	// After the TTL the original key recomputes too.
	clock.now = now.Add(1201 * time.Second)
	refreshed, err := svc.Snapshot(ctx, StatsQuery{Granularity: domain.StatsByDay, Limit: 7})
	if err != nil {
		t.Fatalf("refreshed: %v", err)
	}
	if refreshed.TodayOrders != 2 {
		t.Fatalf("expected recompute after ttl, got %d", refreshed.TodayOrders)
	}
}

func TestSnapshotRejectsUnknownGranularity(t *testing.T) {
	repo := newMemOrderRepo()
	svc := newStatsService(t, repo, &statsClock{now: time.Now()}, time.Minute)
	if _, err := svc.Snapshot(context.Background(), StatsQuery{Granularity: "hourly"}); !errors.Is(err, ErrStatsInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestForUserTotalsAndDeletable(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	repo := newMemOrderRepo(
		statsOrder("o1", "u1", now.Add(-48*time.Hour), true, "500", 2),
		statsOrder("o2", "u1", now.Add(-24*time.Hour), false, "300", 1),
	)
	svc := newStatsService(t, repo, &statsClock{now: now}, time.Minute)
	ctx := context.Background()

	stats, err := svc.ForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("for user: %v", err)
	}
	if stats.TotalOrders != 2 || stats.TotalCups != 3 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if !stats.TotalSpent.Equal(decimal.RequireFromString("500")) {
		t.Fatalf("expected spent 500 got %s", stats.TotalSpent)
	}
	// o2 is done but unpaid, so the account still has an active order.
	if stats.Deletable {
		t.Fatalf("expected not deletable with unpaid order")
	}

	paid := repo.orders["o2"]
	paid.Paid = true
	repo.orders["o2"] = paid
	stats, err = svc.ForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("for user second: %v", err)
	}
	if !stats.Deletable {
		t.Fatalf("expected deletable once all orders terminal")
	}
}
