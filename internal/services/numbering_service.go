package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus-brew/api/internal/repositories"
)

// ErrNumberingInvalidInput indicates the caller supplied invalid numbering parameters.
var ErrNumberingInvalidInput = errors.New("numbering: invalid input")

// NumberingServiceDeps bundles collaborators for the order numbering service.
type NumberingServiceDeps struct {
	Counters repositories.CounterRepository
	// Location is the shop's timezone; the counter rolls over at its midnight.
	Location *time.Location
	// PadLength is the minimum printed width. Sequences past the padded range
	// simply print wider ("1000" after "999").
	PadLength int
	Clock     func() time.Time
}

// NumberingService hands out daily-sequential order numbers.
type NumberingService struct {
	counters  repositories.CounterRepository
	location  *time.Location
	padLength int
	clock     func() time.Time
}

// NewNumberingService constructs the order numbering service.
func NewNumberingService(deps NumberingServiceDeps) (*NumberingService, error) {
	if deps.Counters == nil {
		return nil, errors.New("numbering service: counter repository is required")
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	padLength := deps.PadLength
	if padLength <= 0 {
		padLength = 3
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &NumberingService{
		counters:  deps.Counters,
		location:  location,
		padLength: padLength,
		clock:     clock,
	}, nil
}

// NextOrderNumber returns the next number for today's sequence. Each calendar
// day in the shop timezone gets its own counter document, so the sequence
// restarts at 001 overnight without a reset job.
func (s *NumberingService) NextOrderNumber(ctx context.Context) (string, error) {
	if s == nil || s.counters == nil {
		return "", errors.New("numbering service not initialised")
	}

	day := s.clock().In(s.location).Format("2006-01-02")
	seq, err := s.counters.Next(ctx, "orders:"+day, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrNumberingInvalidInput, counterErr.Message)
		}
		return "", err
	}
	return fmt.Sprintf("%0*d", s.padLength, seq), nil
}

// DayStart returns the UTC instant at which the current shop day began. Used
// to bound number lookups to today's sequence.
func (s *NumberingService) DayStart() time.Time {
	now := s.clock().In(s.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location).UTC()
}
