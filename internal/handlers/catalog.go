package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/campus-brew/api/internal/platform/httpx"
	"github.com/campus-brew/api/internal/services"
)

// CatalogHandlers exposes the public menu: items, categories and option types.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the /catalog endpoints. All of them are unauthenticated.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/items", h.listItems)
	r.Get("/items/{itemID}", h.getItem)
	r.Get("/categories", h.listCategories)
	r.Get("/tags", h.listTags)
	r.Get("/option-types", h.listOptionTypes)
}

func (h *CatalogHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.CatalogItemFilter{
		CategoryID:     strings.TrimSpace(query.Get("category")),
		TagID:          strings.TrimSpace(query.Get("tag")),
		IncludeSoldOut: query.Get("include_sold_out") == "1",
	}

	items, err := h.catalog.ListItems(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := make([]catalogItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, buildCatalogItem(item))
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, catalogItemListResponse{Items: payload})
}

func (h *CatalogHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	detail, err := h.catalog.GetItem(ctx, itemID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := catalogItemDetailResponse{
		Item:        buildCatalogItem(detail.Item),
		OptionTypes: make([]optionTypePayload, 0, len(detail.OptionTypes)),
		Tags:        make([]tagPayload, 0, len(detail.Tags)),
	}
	for _, optionType := range detail.OptionTypes {
		payload.OptionTypes = append(payload.OptionTypes, buildOptionType(optionType))
	}
	for _, tag := range detail.Tags {
		payload.Tags = append(payload.Tags, tagPayload{ID: tag.ID, Name: tag.Name, Color: tag.Color})
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, payload)
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		payload = append(payload, categoryPayload{ID: category.ID, Name: category.Name})
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, categoryListResponse{Categories: payload})
}

func (h *CatalogHandlers) listTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	tags, err := h.catalog.ListTags(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := make([]tagPayload, 0, len(tags))
	for _, tag := range tags {
		payload = append(payload, tagPayload{ID: tag.ID, Name: tag.Name, Color: tag.Color})
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, tagListResponse{Tags: payload})
}

func (h *CatalogHandlers) listOptionTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	optionTypes, err := h.catalog.ListOptionTypes(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	payload := make([]optionTypePayload, 0, len(optionTypes))
	for _, optionType := range optionTypes {
		payload = append(payload, buildOptionType(optionType))
	}
	httpx.WriteJSON(ctx, w, http.StatusOK, optionTypeListResponse{OptionTypes: payload})
}

type catalogItemListResponse struct {
	Items []catalogItemPayload `json:"items"`
}

type catalogItemDetailResponse struct {
	Item        catalogItemPayload  `json:"item"`
	OptionTypes []optionTypePayload `json:"option_types"`
	Tags        []tagPayload        `json:"tags"`
}

type categoryListResponse struct {
	Categories []categoryPayload `json:"categories"`
}

type tagListResponse struct {
	Tags []tagPayload `json:"tags"`
}

type optionTypeListResponse struct {
	OptionTypes []optionTypePayload `json:"option_types"`
}

type catalogItemPayload struct {
	ID               string   `json:"id"`
	CategoryID       string   `json:"category_id"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	ShortDescription string   `json:"short_description,omitempty"`
	ImagePath        string   `json:"image_path,omitempty"`
	BasePrice        string   `json:"base_price"`
	SalePercent      string   `json:"sale_percent"`
	SoldOut          bool     `json:"sold_out"`
	OptionTypeIDs    []string `json:"option_type_ids,omitempty"`
	TagIDs           []string `json:"tag_ids,omitempty"`
	UpdatedAt        string   `json:"updated_at,omitempty"`
}

type categoryPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type tagPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type optionTypePayload struct {
	ID    string              `json:"id"`
	Name  string              `json:"name"`
	Items []optionItemPayload `json:"items"`
}

type optionItemPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsDefault   bool   `json:"is_default"`
	PriceChange string `json:"price_change"`
}

func buildCatalogItem(item services.ItemType) catalogItemPayload {
	return catalogItemPayload{
		ID:               item.ID,
		CategoryID:       item.CategoryID,
		Name:             item.Name,
		Description:      item.Description,
		ShortDescription: item.ShortDescription,
		ImagePath:        item.ImagePath,
		BasePrice:        item.BasePrice.StringFixed(2),
		SalePercent:      item.SalePercent.String(),
		SoldOut:          item.SoldOut,
		OptionTypeIDs:    item.OptionTypeIDs,
		TagIDs:           item.TagIDs,
		UpdatedAt:        formatTime(item.UpdatedAt),
	}
}

func buildOptionType(optionType services.OptionType) optionTypePayload {
	payload := optionTypePayload{
		ID:    optionType.ID,
		Name:  optionType.Name,
		Items: make([]optionItemPayload, 0, len(optionType.Items)),
	}
	for _, item := range optionType.Items {
		payload.Items = append(payload.Items, optionItemPayload{
			ID:          item.ID,
			Name:        item.Name,
			IsDefault:   item.IsDefault,
			PriceChange: item.PriceChange.StringFixed(2),
		})
	}
	return payload
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "item not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to read catalog", http.StatusInternalServerError))
	}
}
