package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/textutil"
	"github.com/campus-brew/api/internal/repositories"
)

const (
	orderEventCreated            = "order.created"
	orderEventCanceled           = "order.canceled"
	orderEventFulfillmentUpdated = "order.fulfillment.updated"

	orderIDPrefix     = "ord_"
	orderLineIDPrefix = "line_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the requester does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderConflict indicates duplicate or conflicting writes.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRefused indicates an eligibility check rejected the order.
	ErrOrderRefused = errors.New("order: refused")
)

// RefusalError carries the eligibility outcome that rejected an order.
type RefusalError struct {
	Eligibility Eligibility
}

func (e *RefusalError) Error() string {
	return fmt.Sprintf("order refused: %s (%s)", e.Eligibility.Reason, e.Eligibility.Detail)
}

func (e *RefusalError) Unwrap() error { return ErrOrderRefused }

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Catalog   repositories.CatalogRepository
	Quota     QuotaService
	Numbering *NumberingService
	Pricing   *PricingEngine
	// Location is the shop timezone used for "today" boundaries.
	Location *time.Location
	// MinutesPerCup scales the wait estimate.
	MinutesPerCup int
	// UnpaidDoneIsTerminal mirrors the quota policy for staff active views.
	UnpaidDoneIsTerminal bool
	UnitOfWork           repositories.UnitOfWork
	Events               OrderEventPublisher
	Audit                AuditLogService
	Clock                func() time.Time
	IDGenerator          func() string
	Logger               func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders               repositories.OrderRepository
	catalog              repositories.CatalogRepository
	quota                QuotaService
	numbering            *NumberingService
	pricing              *PricingEngine
	location             *time.Location
	minutesPerCup        int
	unpaidDoneIsTerminal bool
	unitOfWork           repositories.UnitOfWork
	events               OrderEventPublisher
	audit                AuditLogService
	clock                func() time.Time
	newID                func() string
	logger               func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}
	if deps.Quota == nil {
		return nil, errors.New("order service: quota service is required")
	}
	if deps.Numbering == nil {
		return nil, errors.New("order service: numbering service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	minutesPerCup := deps.MinutesPerCup
	if minutesPerCup <= 0 {
		minutesPerCup = 2
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:               deps.Orders,
		catalog:              deps.Catalog,
		quota:                deps.Quota,
		numbering:            deps.Numbering,
		pricing:              deps.Pricing,
		location:             location,
		minutesPerCup:        minutesPerCup,
		unpaidDoneIsTerminal: deps.UnpaidDoneIsTerminal,
		unitOfWork:           unit,
		events:               deps.Events,
		audit:                deps.Audit,
		clock:                func() time.Time { return clock().UTC() },
		newID:                idGen,
		logger:               logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if len(cmd.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one line", ErrOrderInvalidInput)
	}
	for i, line := range cmd.Lines {
		if strings.TrimSpace(line.ItemTypeID) == "" {
			return Order{}, fmt.Errorf("%w: line %d is missing an item", ErrOrderInvalidInput, i)
		}
		if line.Amount <= 0 {
			return Order{}, fmt.Errorf("%w: line %d amount must be positive", ErrOrderInvalidInput, i)
		}
	}

	switch cmd.Channel {
	case domain.ChannelOnline:
		if strings.TrimSpace(cmd.UserID) == "" {
			return Order{}, fmt.Errorf("%w: online orders require a user id", ErrOrderInvalidInput)
		}
	case domain.ChannelOnSite:
		if textutil.NormalizeName(cmd.OnSiteName) == "" {
			return Order{}, fmt.Errorf("%w: on-site orders require a customer name", ErrOrderInvalidInput)
		}
	default:
		return Order{}, fmt.Errorf("%w: unknown channel %q", ErrOrderInvalidInput, cmd.Channel)
	}

	orderType := cmd.Type
	if orderType == "" {
		orderType = domain.OrderTypePickUp
	}
	if orderType == domain.OrderTypeDelivery && strings.TrimSpace(cmd.DeliveryRoom) == "" {
		return Order{}, fmt.Errorf("%w: delivery orders require a room", ErrOrderInvalidInput)
	}

	// Eligibility reads, the counter increment, and the insert share one
	// transaction so concurrent creates cannot both pass the active-order
	// check, and the shop-open read cannot race a scheduler flip.
	var order Order
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		eligibility, err := s.quota.CheckEligibility(txCtx, EligibilityQuery{
			UserID:     cmd.UserID,
			OnSiteName: cmd.OnSiteName,
			Channel:    cmd.Channel,
			Lines:      cmd.Lines,
		})
		if err != nil {
			return err
		}
		if !eligibility.Allowed {
			return &RefusalError{Eligibility: eligibility}
		}

		lines, err := s.buildLines(txCtx, cmd.Lines)
		if err != nil {
			return err
		}

		now := s.clock()
		order = Order{
			ID:           orderIDPrefix + s.newID(),
			UserID:       strings.TrimSpace(cmd.UserID),
			OnSiteName:   textutil.NormalizeName(cmd.OnSiteName),
			Channel:      cmd.Channel,
			Type:         orderType,
			DeliveryRoom: strings.TrimSpace(cmd.DeliveryRoom),
			Status:       domain.OrderStatusWaiting,
			TotalPrice:   s.pricing.Total(lines),
			Lines:        lines,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if cmd.Channel == domain.ChannelOnSite && order.UserID == "" {
			order.UserID = eligibility.ResolvedUserID
		}

		number, err := s.numbering.NextOrderNumber(txCtx)
		if err != nil {
			return err
		}
		order.Number = number
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, orderEventCreated, order)

	if s.audit != nil && cmd.Channel == domain.ChannelOnSite {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "staff",
			Action:    "order.create.on_site",
			TargetRef: "orders/" + order.ID,
			Metadata:  map[string]any{"number": order.Number, "cups": order.CupCount()},
		})
	}

	return order, nil
}

func (s *orderService) buildLines(ctx context.Context, inputs []CreateOrderLineInput) ([]OrderLine, error) {
	optionTypes, err := s.catalog.ListOptionTypes(ctx)
	if err != nil {
		return nil, err
	}

	lines := make([]OrderLine, 0, len(inputs))
	for _, input := range inputs {
		item, err := s.catalog.GetItemType(ctx, input.ItemTypeID)
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("%w: unknown item %q", ErrOrderInvalidInput, input.ItemTypeID)
			}
			return nil, err
		}

		breakdown, err := s.pricing.PriceLine(item, optionTypes, input.OptionItemIDs, input.Amount)
		if err != nil {
			if errors.Is(err, ErrPricingInvalidInput) || errors.Is(err, ErrPricingUnknownOption) {
				return nil, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
			}
			return nil, err
		}

		lines = append(lines, OrderLine{
			ID:            orderLineIDPrefix + s.newID(),
			ItemTypeID:    item.ID,
			ItemTypeName:  item.Name,
			OptionItemIDs: append([]string(nil), input.OptionItemIDs...),
			UnitPrice:     breakdown.UnitPrice,
			Amount:        input.Amount,
		})
	}
	return lines, nil
}

func (s *orderService) Get(ctx context.Context, query GetOrderQuery) (Order, error) {
	order, err := s.loadOrder(ctx, query.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !query.Staff && order.UserID != strings.TrimSpace(query.RequesterID) {
		return Order{}, fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}
	return order, nil
}

// GetByNumber resolves today's order with the given number. The lookup is
// public by design: pickup screens show numbers, not IDs.
func (s *orderService) GetByNumber(ctx context.Context, number string) (Order, error) {
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return Order{}, fmt.Errorf("%w: number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, trimmed, s.numbering.DayStart())
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	// Strip account linkage; the caller only proved knowledge of the number.
	order.UserID = ""
	order.OnSiteName = ""
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID: trimmed,
		Sort:   domain.SortDesc,
		Limit:  limit,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) error {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if !cmd.Staff {
		if order.UserID != strings.TrimSpace(cmd.RequesterID) {
			return fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
		}
		if order.Status != domain.OrderStatusWaiting || order.Paid {
			return fmt.Errorf("%w: only unpaid waiting orders can be canceled", ErrOrderConflict)
		}
	}

	if err := s.orders.Delete(ctx, order.ID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderEventCanceled, order)

	if s.audit != nil && cmd.Staff {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.RequesterID,
			ActorType: "staff",
			Action:    "order.cancel",
			TargetRef: "orders/" + order.ID,
			Metadata:  map[string]any{"number": order.Number},
		})
	}
	return nil
}

func (s *orderService) UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error) {
	if cmd.Status == nil && cmd.Paid == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}
	if cmd.Status != nil && *cmd.Status != domain.OrderStatusWaiting && *cmd.Status != domain.OrderStatusDone {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, *cmd.Status)
	}

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	changed := false

	if cmd.Status != nil && order.Status != *cmd.Status {
		order.Status = *cmd.Status
		if order.Status == domain.OrderStatusDone {
			order.DoneAt = &now
		} else {
			order.DoneAt = nil
		}
		changed = true
	}
	if cmd.Paid != nil && order.Paid != *cmd.Paid {
		order.Paid = *cmd.Paid
		if order.Paid {
			order.PaidAt = &now
		} else {
			order.PaidAt = nil
		}
		changed = true
	}
	if !changed {
		return order, nil
	}

	order.UpdatedAt = now
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, orderEventFulfillmentUpdated, order)

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "staff",
			Action:    "order.fulfillment.update",
			TargetRef: "orders/" + order.ID,
			Metadata:  map[string]any{"status": string(order.Status), "paid": order.Paid},
		})
	}
	return order, nil
}

func (s *orderService) TodayOrders(ctx context.Context) ([]Order, error) {
	dayStart := s.dayStart()
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		CreatedRange: domain.RangeQuery[time.Time]{From: &dayStart},
		Sort:         domain.SortAsc,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// ActiveOrders returns the barista queue: waiting orders plus completed ones
// that still owe payment.
func (s *orderService) ActiveOrders(ctx context.Context) ([]Order, error) {
	waiting, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status: []domain.OrderStatus{domain.OrderStatusWaiting},
		Sort:   domain.SortAsc,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if s.unpaidDoneIsTerminal {
		return waiting, nil
	}

	unpaid := false
	doneUnpaid, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status: []domain.OrderStatus{domain.OrderStatusDone},
		Paid:   &unpaid,
		Sort:   domain.SortAsc,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	active := append(waiting, doneUnpaid...)
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	return active, nil
}

// EstimateWait projects minutes until handover from the cups queued ahead.
// With an empty orderID the estimate covers a hypothetical new order.
func (s *orderService) EstimateWait(ctx context.Context, orderID string) (WaitEstimate, error) {
	var target *Order
	if trimmed := strings.TrimSpace(orderID); trimmed != "" {
		order, err := s.loadOrder(ctx, trimmed)
		if err != nil {
			return WaitEstimate{}, err
		}
		target = &order
	}

	waiting, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status: []domain.OrderStatus{domain.OrderStatusWaiting},
		Sort:   domain.SortAsc,
	})
	if err != nil {
		return WaitEstimate{}, s.mapRepositoryError(err)
	}

	pendingOrders := 0
	pendingCups := 0
	for _, order := range waiting {
		if target != nil {
			if order.ID == target.ID {
				break
			}
			if !order.CreatedAt.Before(target.CreatedAt) {
				continue
			}
		}
		pendingOrders++
		pendingCups += order.CupCount()
	}

	estimate := WaitEstimate{
		Minutes:       pendingCups * s.minutesPerCup,
		PendingOrders: pendingOrders,
	}
	if target != nil {
		estimate.Number = target.Number
		status := target.Status
		estimate.Status = &status
		if target.Status == domain.OrderStatusDone {
			estimate.Minutes = 0
		} else {
			// The order itself still has to be made.
			estimate.Minutes += target.CupCount() * s.minutesPerCup
		}
	}
	return estimate, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, trimmed)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, event string, order Order) {
	if s.events == nil {
		return
	}
	_, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		Event:      event,
		OrderID:    order.ID,
		Number:     order.Number,
		Channel:    string(order.Channel),
		Status:     string(order.Status),
		Paid:       order.Paid,
		OccurredAt: s.clock(),
	})
	if err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"event": event,
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) dayStart() time.Time {
	now := s.clock().In(s.location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location).UTC()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
