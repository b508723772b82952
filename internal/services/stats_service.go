package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/repositories"
)

const (
	defaultStatsCacheTTL = 1200 * time.Second
	defaultStatsLimit    = 30
	maxStatsLimit        = 366
)

// ErrStatsInvalidInput signals a malformed statistics query.
var ErrStatsInvalidInput = errors.New("statistics: invalid input")

// StatisticsServiceDeps bundles collaborators for the statistics service.
type StatisticsServiceDeps struct {
	Orders repositories.OrderRepository
	// Location is the shop timezone; buckets follow its calendar.
	Location *time.Location
	// CacheTTL bounds how stale a served snapshot may be.
	CacheTTL             time.Duration
	UnpaidDoneIsTerminal bool
	Clock                func() time.Time
}

type cachedSnapshot struct {
	snapshot StatsSnapshot
	expires  time.Time
}

type statisticsService struct {
	orders               repositories.OrderRepository
	location             *time.Location
	cacheTTL             time.Duration
	unpaidDoneIsTerminal bool
	clock                func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSnapshot
}

// NewStatisticsService constructs the statistics aggregator.
func NewStatisticsService(deps StatisticsServiceDeps) (StatisticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("statistics service: order repository is required")
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultStatsCacheTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &statisticsService{
		orders:               deps.Orders,
		location:             location,
		cacheTTL:             ttl,
		unpaidDoneIsTerminal: deps.UnpaidDoneIsTerminal,
		clock:                func() time.Time { return clock().UTC() },
		cache:                make(map[string]cachedSnapshot),
	}, nil
}

// Snapshot serves the cached report when fresh enough, otherwise recomputes.
// The cache is keyed per granularity and limit, so a wide monthly export does
// not evict the dashboard's daily view.
func (s *statisticsService) Snapshot(ctx context.Context, query StatsQuery) (StatsSnapshot, error) {
	granularity := query.Granularity
	if granularity == "" {
		granularity = domain.StatsByDay
	}
	switch granularity {
	case domain.StatsByDay, domain.StatsByWeek, domain.StatsByMonth, domain.StatsIndividual:
	default:
		return StatsSnapshot{}, fmt.Errorf("%w: unknown granularity %q", ErrStatsInvalidInput, granularity)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultStatsLimit
	}
	if limit > maxStatsLimit {
		limit = maxStatsLimit
	}

	key := fmt.Sprintf("%s:%d", granularity, limit)
	now := s.clock()

	s.mu.Lock()
	if cached, ok := s.cache[key]; ok && now.Before(cached.expires) {
		s.mu.Unlock()
		return cached.snapshot, nil
	}
	s.mu.Unlock()

	snapshot, err := s.compute(ctx, granularity, limit, now)
	if err != nil {
		return StatsSnapshot{}, err
	}

	s.mu.Lock()
	s.cache[key] = cachedSnapshot{snapshot: snapshot, expires: now.Add(s.cacheTTL)}
	s.mu.Unlock()
	return snapshot, nil
}

func (s *statisticsService) compute(ctx context.Context, granularity StatsGranularity, limit int, now time.Time) (StatsSnapshot, error) {
	from := s.rangeStart(limit, now)
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		CreatedRange: domain.RangeQuery[time.Time]{From: &from},
		Sort:         domain.SortAsc,
	})
	if err != nil {
		return StatsSnapshot{}, err
	}

	snapshot := StatsSnapshot{
		TodayRevenue: decimal.Zero,
		WeekRevenue:  decimal.Zero,
		Revenue:      make(map[string]decimal.Decimal),
		Orders:       make(map[string]int),
		Cups:         make(map[string]int),
		UniqueUsers:  make(map[string]int),
		GeneratedAt:  now,
	}

	dayStart := startOfDay(now.In(s.location))
	weekStart := startOfWeek(now.In(s.location))
	weekEnd := weekStart.AddDate(0, 0, 6)
	snapshot.WeekRevenueRange = weekStart.Format("2006-01-02") + " ~ " + weekEnd.Format("2006-01-02")

	bucketUsers := make(map[string]map[string]bool)
	todayUsers := make(map[string]bool)

	for _, order := range orders {
		local := order.CreatedAt.In(s.location)
		label := s.bucketLabel(granularity, local)

		snapshot.Orders[label]++
		snapshot.Cups[label] += order.CupCount()
		if order.Paid {
			revenue := snapshot.Revenue[label]
			snapshot.Revenue[label] = revenue.Add(order.TotalPrice)
		} else if _, ok := snapshot.Revenue[label]; !ok {
			snapshot.Revenue[label] = decimal.Zero
		}

		if order.UserID != "" {
			users := bucketUsers[label]
			if users == nil {
				users = make(map[string]bool)
				bucketUsers[label] = users
			}
			users[order.UserID] = true
		}

		if !local.Before(dayStart) {
			snapshot.TodayOrders++
			snapshot.TodayCups += order.CupCount()
			if order.Paid {
				snapshot.TodayRevenue = snapshot.TodayRevenue.Add(order.TotalPrice)
			}
			if order.UserID != "" {
				todayUsers[order.UserID] = true
			}
		}
		if !local.Before(weekStart) && order.Paid {
			snapshot.WeekRevenue = snapshot.WeekRevenue.Add(order.TotalPrice)
		}
	}

	for label, users := range bucketUsers {
		snapshot.UniqueUsers[label] = len(users)
	}
	snapshot.TodayUniqueUsers = len(todayUsers)

	return snapshot, nil
}

// rangeStart bounds the order scan. The limit is a lookback window in days
// for every granularity; the window is the only bound on the report.
func (s *statisticsService) rangeStart(limit int, now time.Time) time.Time {
	return now.In(s.location).AddDate(0, 0, -limit).UTC()
}

func (s *statisticsService) bucketLabel(granularity StatsGranularity, local time.Time) string {
	switch granularity {
	case domain.StatsByWeek:
		return startOfWeek(local).Format("2006-01-02")
	case domain.StatsByMonth:
		return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, local.Location()).Format("2006-01-02")
	case domain.StatsIndividual:
		return local.Format("2006-01-02 15:04:05")
	default:
		return local.Format("2006-01-02")
	}
}

// ForUser is never cached: it backs the user's own profile page and must
// reflect a just-placed order immediately.
func (s *statisticsService) ForUser(ctx context.Context, userID string) (UserStatistics, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return UserStatistics{}, fmt.Errorf("%w: user id is required", ErrStatsInvalidInput)
	}

	orders, err := s.orders.List(ctx, repositories.OrderListFilter{UserID: trimmed})
	if err != nil {
		return UserStatistics{}, err
	}

	stats := UserStatistics{TotalSpent: decimal.Zero, Deletable: true}
	for _, order := range orders {
		stats.TotalOrders++
		stats.TotalCups += order.CupCount()
		if order.Paid {
			stats.TotalSpent = stats.TotalSpent.Add(order.TotalPrice)
		}
		if !order.Terminal(s.unpaidDoneIsTerminal) {
			stats.Deletable = false
		}
	}
	return stats, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek returns the Monday of t's week.
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
