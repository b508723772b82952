package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
)

const scheduleActor = "scheduler"

// ShopScheduleDeps bundles collaborators required to construct the shop-hours scheduler.
type ShopScheduleDeps struct {
	Settings  SettingsService
	Location  *time.Location
	OpenHour  int
	CloseHour int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// ShopSchedule flips the shop-open setting at the configured weekday hours.
type ShopSchedule struct {
	settings  SettingsService
	location  *time.Location
	openHour  int
	closeHour int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewShopSchedule validates the configured hours and builds the scheduler.
func NewShopSchedule(deps ShopScheduleDeps) (*ShopSchedule, error) {
	if deps.Settings == nil {
		return nil, errors.New("shop schedule: settings service is required")
	}
	if deps.Location == nil {
		return nil, errors.New("shop schedule: location is required")
	}
	if deps.OpenHour < 0 || deps.OpenHour > 23 || deps.CloseHour < 0 || deps.CloseHour > 23 {
		return nil, fmt.Errorf("shop schedule: hours must be within 0-23, got open=%d close=%d", deps.OpenHour, deps.CloseHour)
	}
	if deps.OpenHour >= deps.CloseHour {
		return nil, fmt.Errorf("shop schedule: open hour %d must precede close hour %d", deps.OpenHour, deps.CloseHour)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &ShopSchedule{
		settings:  deps.Settings,
		location:  deps.Location,
		openHour:  deps.OpenHour,
		closeHour: deps.CloseHour,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Run blocks until ctx is done, applying each transition as its time arrives.
// The current state is applied once on startup so a restart mid-day does not
// leave the shop stuck in yesterday's state.
func (s *ShopSchedule) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shop schedule: context is required")
	}

	if err := s.Apply(ctx); err != nil {
		s.logger(ctx, "shop_schedule.apply_failed", map[string]any{"error": err.Error()})
	}

	for {
		next := s.NextTransition(s.clock())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.Apply(ctx); err != nil {
			s.logger(ctx, "shop_schedule.apply_failed", map[string]any{"error": err.Error()})
		}
	}
}

// Apply writes the shop-open value the current wall clock calls for.
func (s *ShopSchedule) Apply(ctx context.Context) error {
	local := s.clock().In(s.location)
	value := "0"
	if s.openNow(local) {
		value = "1"
	}
	if _, err := s.settings.Set(ctx, UpdateSettingCommand{
		Key:     domain.SettingShopOpen,
		Value:   value,
		ActorID: scheduleActor,
	}); err != nil {
		return fmt.Errorf("shop schedule: set %s=%s: %w", domain.SettingShopOpen, value, err)
	}
	s.logger(ctx, "shop_schedule.applied", map[string]any{
		"value": value,
		"at":    local.Format(time.RFC3339),
	})
	return nil
}

// NextTransition returns the next open or close instant strictly after now.
func (s *ShopSchedule) NextTransition(now time.Time) time.Time {
	local := now.In(s.location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
	for offset := 0; ; offset++ {
		candidate := day.AddDate(0, 0, offset)
		if !isWeekday(candidate.Weekday()) {
			continue
		}
		open := candidate.Add(time.Duration(s.openHour) * time.Hour)
		if open.After(local) {
			return open
		}
		closeAt := candidate.Add(time.Duration(s.closeHour) * time.Hour)
		if closeAt.After(local) {
			return closeAt
		}
	}
}

func (s *ShopSchedule) openNow(local time.Time) bool {
	if !isWeekday(local.Weekday()) {
		return false
	}
	return local.Hour() >= s.openHour && local.Hour() < s.closeHour
}

func isWeekday(day time.Weekday) bool {
	return day != time.Saturday && day != time.Sunday
}
