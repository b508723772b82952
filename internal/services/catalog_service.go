package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/campus-brew/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput signals the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the catalog entity could not be located.
	ErrCatalogNotFound = errors.New("catalog: not found")
)

// CatalogServiceDeps bundles collaborators for the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
	Audit   AuditLogService
	Clock   func() time.Time
}

type catalogService struct {
	catalog repositories.CatalogRepository
	audit   AuditLogService
	clock   func() time.Time
}

// NewCatalogService constructs the catalog service.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		catalog: deps.Catalog,
		audit:   deps.Audit,
		clock:   func() time.Time { return clock().UTC() },
	}, nil
}

func (s *catalogService) ListItems(ctx context.Context, filter CatalogItemFilter) ([]ItemType, error) {
	items, err := s.catalog.ListItemTypes(ctx, repositories.ItemTypeFilter{
		CategoryID:     strings.TrimSpace(filter.CategoryID),
		TagID:          strings.TrimSpace(filter.TagID),
		IncludeSoldOut: filter.IncludeSoldOut,
		Limit:          filter.Limit,
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// GetItem returns the item with its option types and tags resolved, so a
// menu detail page needs a single request.
func (s *catalogService) GetItem(ctx context.Context, itemTypeID string) (CatalogItemDetail, error) {
	trimmed := strings.TrimSpace(itemTypeID)
	if trimmed == "" {
		return CatalogItemDetail{}, fmt.Errorf("%w: item id is required", ErrCatalogInvalidInput)
	}

	item, err := s.catalog.GetItemType(ctx, trimmed)
	if err != nil {
		if isNotFound(err) {
			return CatalogItemDetail{}, fmt.Errorf("%w: item %q", ErrCatalogNotFound, trimmed)
		}
		return CatalogItemDetail{}, err
	}

	detail := CatalogItemDetail{Item: item}
	for _, optionTypeID := range item.OptionTypeIDs {
		optionType, err := s.catalog.GetOptionType(ctx, optionTypeID)
		if err != nil {
			if isNotFound(err) {
				// Catalog drift: the item points at a removed option type.
				continue
			}
			return CatalogItemDetail{}, err
		}
		detail.OptionTypes = append(detail.OptionTypes, optionType)
	}

	if len(item.TagIDs) > 0 {
		tags, err := s.catalog.ListTags(ctx)
		if err != nil {
			return CatalogItemDetail{}, err
		}
		for _, tag := range tags {
			if containsString(item.TagIDs, tag.ID) {
				detail.Tags = append(detail.Tags, tag)
			}
		}
	}
	return detail, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	return s.catalog.ListCategories(ctx)
}

func (s *catalogService) ListTags(ctx context.Context) ([]Tag, error) {
	return s.catalog.ListTags(ctx)
}

func (s *catalogService) ListOptionTypes(ctx context.Context) ([]OptionType, error) {
	return s.catalog.ListOptionTypes(ctx)
}

func (s *catalogService) SetItemSoldOut(ctx context.Context, cmd SetSoldOutCommand) error {
	trimmed := strings.TrimSpace(cmd.ItemTypeID)
	if trimmed == "" {
		return fmt.Errorf("%w: item id is required", ErrCatalogInvalidInput)
	}
	if err := s.catalog.SetItemSoldOut(ctx, trimmed, cmd.SoldOut, s.clock()); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: item %q", ErrCatalogNotFound, trimmed)
		}
		return err
	}
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:     cmd.ActorID,
			ActorType: "staff",
			Action:    "catalog.set_sold_out",
			TargetRef: "itemTypes/" + trimmed,
			Metadata:  map[string]any{"soldOut": cmd.SoldOut},
		})
	}
	return nil
}
