package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/campus-brew/api/internal/domain"
	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/repositories"
)

const ordersCollection = "orders"

type orderLineDocument struct {
	ID            string   `firestore:"id"`
	ItemTypeID    string   `firestore:"itemTypeId"`
	ItemTypeName  string   `firestore:"itemTypeName"`
	OptionItemIDs []string `firestore:"optionItemIds"`
	UnitPrice     string   `firestore:"unitPrice"`
	Amount        int      `firestore:"amount"`
}

type orderDocument struct {
	Number       string              `firestore:"number"`
	UserID       string              `firestore:"userId"`
	OnSiteName   string              `firestore:"onSiteName"`
	Channel      string              `firestore:"channel"`
	Type         string              `firestore:"type"`
	DeliveryRoom string              `firestore:"deliveryRoom"`
	Status       string              `firestore:"status"`
	Paid         bool                `firestore:"paid"`
	TotalPrice   string              `firestore:"totalPrice"`
	Lines        []orderLineDocument `firestore:"lines"`
	CreatedAt    time.Time           `firestore:"createdAt"`
	UpdatedAt    time.Time           `firestore:"updatedAt"`
	DoneAt       *time.Time          `firestore:"doneAt,omitempty"`
	PaidAt       *time.Time          `firestore:"paidAt,omitempty"`
}

// OrderRepository persists orders with their lines embedded in a single document.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order document. The caller controls the document ID.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := pfirestore.TransactionFromContext(ctx); ok {
		if err := tx.Create(ref, fromDomainOrder(order)); err != nil {
			return pfirestore.WrapError("orders.insert", err)
		}
		return nil
	}
	if _, err := ref.Create(ctx, fromDomainOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Set(ctx, id, fromDomainOrder(order))
	return err
}

// Delete removes the order document entirely.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("orders.delete", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// FindByNumber resolves an order by its daily number. Numbers repeat day to
// day, so the lookup is bounded to orders created after the given instant.
func (r *OrderRepository) FindByNumber(ctx context.Context, number string, createdAfter time.Time) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(number)
	if trimmed == "" {
		return domain.Order{}, errors.New("order number is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("number", "==", trimmed).
			Where("createdAt", ">=", createdAfter.UTC()).
			OrderBy("createdAt", firestore.Desc).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NewNotFoundError("orders.find_by_number", trimmed)
	}
	return toDomainOrder(docs[0].ID, docs[0].Data), nil
}

// List queries orders matching the filter.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("order repository not initialised")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if name := strings.TrimSpace(filter.OnSiteName); name != "" {
			q = q.Where("onSiteName", "==", name)
		}
		if filter.Channel != nil {
			q = q.Where("channel", "==", string(*filter.Channel))
		}
		if len(filter.Status) == 1 {
			q = q.Where("status", "==", string(filter.Status[0]))
		} else if len(filter.Status) > 1 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.Paid != nil {
			q = q.Where("paid", "==", *filter.Paid)
		}
		if filter.CreatedRange.From != nil {
			q = q.Where("createdAt", ">=", filter.CreatedRange.From.UTC())
		}
		if filter.CreatedRange.To != nil {
			q = q.Where("createdAt", "<", filter.CreatedRange.To.UTC())
		}
		direction := firestore.Asc
		if filter.Sort == domain.SortDesc {
			direction = firestore.Desc
		}
		q = q.OrderBy("createdAt", direction)
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

func fromDomainOrder(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument{
			ID:            line.ID,
			ItemTypeID:    line.ItemTypeID,
			ItemTypeName:  line.ItemTypeName,
			OptionItemIDs: append([]string(nil), line.OptionItemIDs...),
			UnitPrice:     line.UnitPrice.String(),
			Amount:        line.Amount,
		})
	}
	doc := orderDocument{
		Number:       order.Number,
		UserID:       order.UserID,
		OnSiteName:   order.OnSiteName,
		Channel:      string(order.Channel),
		Type:         string(order.Type),
		DeliveryRoom: order.DeliveryRoom,
		Status:       string(order.Status),
		Paid:         order.Paid,
		TotalPrice:   order.TotalPrice.String(),
		Lines:        lines,
		CreatedAt:    order.CreatedAt.UTC(),
		UpdatedAt:    order.UpdatedAt.UTC(),
	}
	if order.DoneAt != nil {
		done := order.DoneAt.UTC()
		doc.DoneAt = &done
	}
	if order.PaidAt != nil {
		paid := order.PaidAt.UTC()
		doc.PaidAt = &paid
	}
	return doc
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLine{
			ID:            line.ID,
			ItemTypeID:    line.ItemTypeID,
			ItemTypeName:  line.ItemTypeName,
			OptionItemIDs: append([]string(nil), line.OptionItemIDs...),
			UnitPrice:     parseDecimal(line.UnitPrice),
			Amount:        line.Amount,
		})
	}
	return domain.Order{
		ID:           id,
		Number:       doc.Number,
		UserID:       doc.UserID,
		OnSiteName:   doc.OnSiteName,
		Channel:      domain.OrderChannel(doc.Channel),
		Type:         domain.OrderType(doc.Type),
		DeliveryRoom: doc.DeliveryRoom,
		Status:       domain.OrderStatus(doc.Status),
		Paid:         doc.Paid,
		TotalPrice:   parseDecimal(doc.TotalPrice),
		Lines:        lines,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		DoneAt:       doc.DoneAt,
		PaidAt:       doc.PaidAt,
	}
}
