package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/campus-brew/api/internal/domain"
	"github.com/campus-brew/api/internal/platform/textutil"
	"github.com/campus-brew/api/internal/repositories"
)

// stubRepoError implements repositories.RepositoryError for tests.
type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return e.msg }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(kind, id string) error {
	return &stubRepoError{msg: fmt.Sprintf("%s %q not found", kind, id), notFound: true}
}

// memOrderRepo is an in-memory order repository with real filter semantics.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	err    error
}

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		repo.orders[o.ID] = o
	}
	return repo
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return &stubRepoError{msg: "order exists", conflict: true}
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) Update(_ context.Context, order domain.Order) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) Delete(_ context.Context, orderID string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, orderID)
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	if r.err != nil {
		return domain.Order{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order", orderID)
	}
	return order, nil
}

func (r *memOrderRepo) FindByNumber(_ context.Context, number string, createdAfter time.Time) (domain.Order, error) {
	if r.err != nil {
		return domain.Order{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *domain.Order
	for _, order := range r.orders {
		if order.Number != number || order.CreatedAt.Before(createdAfter) {
			continue
		}
		if found == nil || order.CreatedAt.After(found.CreatedAt) {
			o := order
			found = &o
		}
	}
	if found == nil {
		return domain.Order{}, notFoundErr("order number", number)
	}
	return *found, nil
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.OnSiteName != "" && order.OnSiteName != filter.OnSiteName {
			continue
		}
		if filter.Channel != nil && order.Channel != *filter.Channel {
			continue
		}
		if len(filter.Status) > 0 && !statusIn(order.Status, filter.Status) {
			continue
		}
		if filter.Paid != nil && order.Paid != *filter.Paid {
			continue
		}
		if filter.CreatedRange.From != nil && order.CreatedAt.Before(*filter.CreatedRange.From) {
			continue
		}
		if filter.CreatedRange.To != nil && !order.CreatedAt.Before(*filter.CreatedRange.To) {
			continue
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.Sort == domain.SortDesc {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func statusIn(status domain.OrderStatus, set []domain.OrderStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// memUserRepo is an in-memory user repository.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
	err   error
}

func newMemUserRepo(users ...domain.User) *memUserRepo {
	repo := &memUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *memUserRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	if r.err != nil {
		return domain.User{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, notFoundErr("user", userID)
	}
	return user, nil
}

func (r *memUserRepo) FindByName(_ context.Context, name string) ([]domain.User, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	normalized := textutil.NormalizeName(name)
	var out []domain.User
	for _, user := range r.users {
		if textutil.NormalizeName(user.Name) == normalized ||
			(user.PhoneticName != "" && textutil.NormalizeName(user.PhoneticName) == normalized) {
			out = append(out, user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memUserRepo) Upsert(_ context.Context, user domain.User) (domain.User, error) {
	if r.err != nil {
		return domain.User{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Delete(_ context.Context, userID string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	return nil
}

func (r *memUserRepo) SetBlocked(_ context.Context, userID string, blocked bool, updatedAt time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return notFoundErr("user", userID)
	}
	user.Blocked = blocked
	user.UpdatedAt = updatedAt
	r.users[userID] = user
	return nil
}

// memSettingsRepo is an in-memory settings repository.
type memSettingsRepo struct {
	mu       sync.Mutex
	settings map[string]domain.SettingItem
	err      error
}

func newMemSettingsRepo(items ...domain.SettingItem) *memSettingsRepo {
	repo := &memSettingsRepo{settings: make(map[string]domain.SettingItem)}
	for _, item := range items {
		repo.settings[item.Key] = item
	}
	return repo
}

func setting(key, value string) domain.SettingItem {
	return domain.SettingItem{Key: key, Value: value}
}

func (r *memSettingsRepo) Get(_ context.Context, key string) (domain.SettingItem, error) {
	if r.err != nil {
		return domain.SettingItem{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.settings[key]
	if !ok {
		return domain.SettingItem{}, notFoundErr("setting", key)
	}
	return item, nil
}

func (r *memSettingsRepo) Set(_ context.Context, item domain.SettingItem) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[item.Key] = item
	return nil
}

func (r *memSettingsRepo) List(_ context.Context) ([]domain.SettingItem, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SettingItem, 0, len(r.settings))
	for _, item := range r.settings {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// memCatalogRepo is an in-memory catalog repository.
type memCatalogRepo struct {
	mu          sync.Mutex
	categories  []domain.Category
	tags        []domain.Tag
	optionTypes map[string]domain.OptionType
	items       map[string]domain.ItemType
	err         error
}

func newMemCatalogRepo() *memCatalogRepo {
	return &memCatalogRepo{
		optionTypes: make(map[string]domain.OptionType),
		items:       make(map[string]domain.ItemType),
	}
}

func (r *memCatalogRepo) ListCategories(_ context.Context) ([]domain.Category, error) {
	if r.err != nil {
		return nil, r.err
	}
	return append([]domain.Category(nil), r.categories...), nil
}

func (r *memCatalogRepo) ListTags(_ context.Context) ([]domain.Tag, error) {
	if r.err != nil {
		return nil, r.err
	}
	return append([]domain.Tag(nil), r.tags...), nil
}

func (r *memCatalogRepo) ListOptionTypes(_ context.Context) ([]domain.OptionType, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OptionType, 0, len(r.optionTypes))
	for _, t := range r.optionTypes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCatalogRepo) GetOptionType(_ context.Context, optionTypeID string) (domain.OptionType, error) {
	if r.err != nil {
		return domain.OptionType{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.optionTypes[optionTypeID]
	if !ok {
		return domain.OptionType{}, notFoundErr("option type", optionTypeID)
	}
	return t, nil
}

func (r *memCatalogRepo) ListItemTypes(_ context.Context, filter repositories.ItemTypeFilter) ([]domain.ItemType, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ItemType
	for _, item := range r.items {
		if filter.CategoryID != "" && item.CategoryID != filter.CategoryID {
			continue
		}
		if filter.TagID != "" && !containsString(item.TagIDs, filter.TagID) {
			continue
		}
		if item.SoldOut && !filter.IncludeSoldOut {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memCatalogRepo) GetItemType(_ context.Context, itemTypeID string) (domain.ItemType, error) {
	if r.err != nil {
		return domain.ItemType{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemTypeID]
	if !ok {
		return domain.ItemType{}, notFoundErr("item type", itemTypeID)
	}
	return item, nil
}

func (r *memCatalogRepo) UpsertItemType(_ context.Context, item domain.ItemType) (domain.ItemType, error) {
	if r.err != nil {
		return domain.ItemType{}, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return item, nil
}

func (r *memCatalogRepo) SetItemSoldOut(_ context.Context, itemTypeID string, soldOut bool, updatedAt time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemTypeID]
	if !ok {
		return notFoundErr("item type", itemTypeID)
	}
	item.SoldOut = soldOut
	item.UpdatedAt = updatedAt
	r.items[itemTypeID] = item
	return nil
}

// memAuditRepo is an in-memory audit log repository.
type memAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	err     error
}

func (r *memAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, entry := range r.entries {
		if filter.TargetRef != "" && entry.TargetRef != filter.TargetRef {
			continue
		}
		if filter.Actor != "" && entry.Actor != filter.Actor {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		out = append(out, entry)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// capturingPublisher records published order events.
type capturingPublisher struct {
	mu       sync.Mutex
	messages []OrderEventMessage
	err      error
}

func (p *capturingPublisher) PublishOrderEvent(_ context.Context, message OrderEventMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

// passthroughUnitOfWork executes work without a transaction.
type passthroughUnitOfWork struct {
	calls int
	err   error
}

func (u *passthroughUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	u.calls++
	if u.err != nil {
		return u.err
	}
	return fn(ctx)
}

var errStubUnavailable = errors.New("stub backend unavailable")
