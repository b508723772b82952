package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
	pfirestore "github.com/campus-brew/api/internal/platform/firestore"
	"github.com/campus-brew/api/internal/repositories"
)

const (
	categoriesCollection  = "categories"
	tagsCollection        = "tags"
	optionTypesCollection = "optionTypes"
	itemTypesCollection   = "itemTypes"
)

type categoryDocument struct {
	Name      string `firestore:"name"`
	SortIndex int    `firestore:"sortIndex"`
}

type tagDocument struct {
	Name  string `firestore:"name"`
	Color string `firestore:"color"`
}

type optionItemDocument struct {
	ID          string `firestore:"id"`
	Name        string `firestore:"name"`
	IsDefault   bool   `firestore:"isDefault"`
	PriceChange string `firestore:"priceChange"`
}

type optionTypeDocument struct {
	Name  string               `firestore:"name"`
	Items []optionItemDocument `firestore:"items"`
}

type itemTypeDocument struct {
	CategoryID       string    `firestore:"categoryId"`
	Name             string    `firestore:"name"`
	Description      string    `firestore:"description"`
	ShortDescription string    `firestore:"shortDescription"`
	ImagePath        string    `firestore:"imagePath"`
	BasePrice        string    `firestore:"basePrice"`
	SalePercent      string    `firestore:"salePercent"`
	SoldOut          bool      `firestore:"soldOut"`
	Archived         bool      `firestore:"archived"`
	OptionTypeIDs    []string  `firestore:"optionTypeIds"`
	TagIDs           []string  `firestore:"tagIds"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

// CatalogRepository stores the browsable menu: categories, tags, option types
// (with their option items embedded) and item types.
type CatalogRepository struct {
	categories  *pfirestore.BaseRepository[categoryDocument]
	tags        *pfirestore.BaseRepository[tagDocument]
	optionTypes *pfirestore.BaseRepository[optionTypeDocument]
	itemTypes   *pfirestore.BaseRepository[itemTypeDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		categories:  pfirestore.NewBaseRepository[categoryDocument](provider, categoriesCollection, nil, nil),
		tags:        pfirestore.NewBaseRepository[tagDocument](provider, tagsCollection, nil, nil),
		optionTypes: pfirestore.NewBaseRepository[optionTypeDocument](provider, optionTypesCollection, nil, nil),
		itemTypes:   pfirestore.NewBaseRepository[itemTypeDocument](provider, itemTypesCollection, nil, nil),
	}, nil
}

// ListCategories returns all categories ordered by their sort index.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if r == nil || r.categories == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.categories.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("sortIndex", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		categories = append(categories, domain.Category{ID: doc.ID, Name: doc.Data.Name})
	}
	return categories, nil
}

// ListTags returns all known tags.
func (r *CatalogRepository) ListTags(ctx context.Context) ([]domain.Tag, error) {
	if r == nil || r.tags == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.tags.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	tags := make([]domain.Tag, 0, len(docs))
	for _, doc := range docs {
		tags = append(tags, domain.Tag{ID: doc.ID, Name: doc.Data.Name, Color: doc.Data.Color})
	}
	return tags, nil
}

// ListOptionTypes returns every customization axis with its embedded items.
func (r *CatalogRepository) ListOptionTypes(ctx context.Context) ([]domain.OptionType, error) {
	if r == nil || r.optionTypes == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.optionTypes.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	types := make([]domain.OptionType, 0, len(docs))
	for _, doc := range docs {
		types = append(types, toDomainOptionType(doc.ID, doc.Data))
	}
	return types, nil
}

// GetOptionType loads a single customization axis by ID.
func (r *CatalogRepository) GetOptionType(ctx context.Context, optionTypeID string) (domain.OptionType, error) {
	if r == nil || r.optionTypes == nil {
		return domain.OptionType{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(optionTypeID)
	if id == "" {
		return domain.OptionType{}, errors.New("option type id is required")
	}
	doc, err := r.optionTypes.Get(ctx, id)
	if err != nil {
		return domain.OptionType{}, err
	}
	return toDomainOptionType(doc.ID, doc.Data), nil
}

// ListItemTypes queries item types with optional category/tag filters. Sold-out
// items are always returned unless the filter excludes them; archived items are
// hidden by default.
func (r *CatalogRepository) ListItemTypes(ctx context.Context, filter repositories.ItemTypeFilter) ([]domain.ItemType, error) {
	if r == nil || r.itemTypes == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.itemTypes.Query(ctx, func(q firestore.Query) firestore.Query {
		if categoryID := strings.TrimSpace(filter.CategoryID); categoryID != "" {
			q = q.Where("categoryId", "==", categoryID)
		}
		if tagID := strings.TrimSpace(filter.TagID); tagID != "" {
			q = q.Where("tagIds", "array-contains", tagID)
		}
		if filter.UpdatedAfter != nil {
			q = q.Where("updatedAt", ">", filter.UpdatedAfter.UTC())
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.ItemType, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.Archived && !filter.IncludeArchived {
			continue
		}
		if doc.Data.SoldOut && !filter.IncludeSoldOut {
			continue
		}
		items = append(items, toDomainItemType(doc.ID, doc.Data))
	}
	return items, nil
}

// GetItemType loads a single item type by ID.
func (r *CatalogRepository) GetItemType(ctx context.Context, itemTypeID string) (domain.ItemType, error) {
	if r == nil || r.itemTypes == nil {
		return domain.ItemType{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(itemTypeID)
	if id == "" {
		return domain.ItemType{}, errors.New("item type id is required")
	}
	doc, err := r.itemTypes.Get(ctx, id)
	if err != nil {
		return domain.ItemType{}, err
	}
	return toDomainItemType(doc.ID, doc.Data), nil
}

// UpsertItemType writes the item type document, stamping timestamps when unset.
func (r *CatalogRepository) UpsertItemType(ctx context.Context, item domain.ItemType) (domain.ItemType, error) {
	if r == nil || r.itemTypes == nil {
		return domain.ItemType{}, errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(item.ID)
	if id == "" {
		return domain.ItemType{}, errors.New("item type id is required")
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	if _, err := r.itemTypes.Set(ctx, id, fromDomainItemType(item)); err != nil {
		return domain.ItemType{}, err
	}
	item.ID = id
	return item, nil
}

// SetItemSoldOut flips the sold-out flag without touching the rest of the document.
func (r *CatalogRepository) SetItemSoldOut(ctx context.Context, itemTypeID string, soldOut bool, updatedAt time.Time) error {
	if r == nil || r.itemTypes == nil {
		return errors.New("catalog repository not initialised")
	}
	id := strings.TrimSpace(itemTypeID)
	if id == "" {
		return errors.New("item type id is required")
	}
	_, err := r.itemTypes.Update(ctx, id, []firestore.Update{
		{Path: "soldOut", Value: soldOut},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return err
}

func toDomainOptionType(id string, doc optionTypeDocument) domain.OptionType {
	items := make([]domain.OptionItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OptionItem{
			ID:          item.ID,
			TypeID:      id,
			Name:        item.Name,
			IsDefault:   item.IsDefault,
			PriceChange: parseDecimal(item.PriceChange),
		})
	}
	return domain.OptionType{ID: id, Name: doc.Name, Items: items}
}

func toDomainItemType(id string, doc itemTypeDocument) domain.ItemType {
	return domain.ItemType{
		ID:               id,
		CategoryID:       doc.CategoryID,
		Name:             doc.Name,
		Description:      doc.Description,
		ShortDescription: doc.ShortDescription,
		ImagePath:        doc.ImagePath,
		BasePrice:        parseDecimal(doc.BasePrice),
		SalePercent:      parseSalePercent(doc.SalePercent),
		SoldOut:          doc.SoldOut,
		OptionTypeIDs:    append([]string(nil), doc.OptionTypeIDs...),
		TagIDs:           append([]string(nil), doc.TagIDs...),
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

func fromDomainItemType(item domain.ItemType) itemTypeDocument {
	return itemTypeDocument{
		CategoryID:       strings.TrimSpace(item.CategoryID),
		Name:             strings.TrimSpace(item.Name),
		Description:      item.Description,
		ShortDescription: item.ShortDescription,
		ImagePath:        strings.TrimSpace(item.ImagePath),
		BasePrice:        item.BasePrice.String(),
		SalePercent:      item.SalePercent.String(),
		SoldOut:          item.SoldOut,
		OptionTypeIDs:    append([]string(nil), item.OptionTypeIDs...),
		TagIDs:           append([]string(nil), item.TagIDs...),
		CreatedAt:        item.CreatedAt.UTC(),
		UpdatedAt:        item.UpdatedAt.UTC(),
	}
}

// parseSalePercent maps an absent field to full price. A stored "0" stays
// zero: the item is free.
func parseSalePercent(value string) decimal.Decimal {
	if strings.TrimSpace(value) == "" {
		return decimal.NewFromInt(1)
	}
	return parseDecimal(value)
}

// parseDecimal tolerates legacy documents that stored prices as bare numbers.
func parseDecimal(value string) decimal.Decimal {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}
