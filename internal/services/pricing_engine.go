package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/campus-brew/api/internal/domain"
)

var (
	// ErrPricingInvalidInput signals bad pricing data such as a missing item or negative amount.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingUnknownOption is returned when a requested option item does not
	// belong to any option type attached to the item.
	ErrPricingUnknownOption = errors.New("pricing: unknown option item")
)

// PricingEngine derives order line prices from catalog data. All arithmetic is
// exact decimal; only the final order total is rounded to two places.
type PricingEngine struct{}

// NewPricingEngine constructs the pricing engine.
func NewPricingEngine() *PricingEngine {
	return &PricingEngine{}
}

// PriceLine computes the per-unit and total price of one order line.
// Unit price = basePrice x salePercent + sum of selected option deltas.
func (e *PricingEngine) PriceLine(item domain.ItemType, optionTypes []domain.OptionType, optionItemIDs []string, amount int) (PricingBreakdown, error) {
	if amount <= 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: amount must be positive, got %d", ErrPricingInvalidInput, amount)
	}
	if item.BasePrice.IsNegative() {
		return PricingBreakdown{}, fmt.Errorf("%w: base price of %q is negative", ErrPricingInvalidInput, item.ID)
	}
	// Zero is a valid sale percent: the item is free.
	salePercent := item.SalePercent
	if salePercent.IsNegative() || salePercent.GreaterThan(decimal.NewFromInt(1)) {
		return PricingBreakdown{}, fmt.Errorf("%w: sale percent of %q out of range", ErrPricingInvalidInput, item.ID)
	}

	optionDelta, err := sumOptionDeltas(item, optionTypes, optionItemIDs)
	if err != nil {
		return PricingBreakdown{}, err
	}

	// Negative deltas can push the unit price below zero; keeping catalog data
	// sane is an admin concern, not the engine's.
	unit := item.BasePrice.Mul(salePercent).Add(optionDelta)

	return PricingBreakdown{
		BasePrice:   item.BasePrice,
		SalePercent: salePercent,
		OptionDelta: optionDelta,
		UnitPrice:   unit,
		Amount:      amount,
		LineTotal:   unit.Mul(decimal.NewFromInt(int64(amount))),
	}, nil
}

// Total sums order lines and rounds to two decimal places. Intermediate line
// values stay unrounded so repeated cheap options cannot accumulate drift.
func (e *PricingEngine) Total(lines []domain.OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Amount))))
	}
	return total.Round(2)
}

func sumOptionDeltas(item domain.ItemType, optionTypes []domain.OptionType, optionItemIDs []string) (decimal.Decimal, error) {
	allowed := make(map[string]domain.OptionItem)
	for _, optionType := range optionTypes {
		if !containsString(item.OptionTypeIDs, optionType.ID) {
			continue
		}
		for _, optionItem := range optionType.Items {
			allowed[optionItem.ID] = optionItem
		}
	}

	delta := decimal.Zero
	seen := make(map[string]bool, len(optionItemIDs))
	for _, id := range optionItemIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			continue
		}
		if seen[trimmed] {
			return decimal.Zero, fmt.Errorf("%w: option item %q selected twice", ErrPricingInvalidInput, trimmed)
		}
		seen[trimmed] = true
		optionItem, ok := allowed[trimmed]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %q is not available for item %q", ErrPricingUnknownOption, trimmed, item.ID)
		}
		delta = delta.Add(optionItem.PriceChange)
	}
	return delta, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
