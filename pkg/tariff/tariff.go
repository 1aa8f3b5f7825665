// Package tariff resolves the unit price for a labeled reading, either from
// a flat per-label price or from a per-day tempo color price.
package tariff

import (
	"context"
	"log/slog"
	"time"

	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/types"
)

// ColorLookup returns the tempo color for a calendar date, or false when
// the color feed has no entry for that day.
type ColorLookup func(date time.Time) (types.TempoColor, bool)

// Table maps labels to configured prices for one meter mode.
type Table struct {
	mode     types.Mode
	tempo    bool
	pricings map[string]types.Pricing
}

// New builds a Table. tempo declares whether the subscription uses
// day-color pricing; when it does, entries are expected to carry a Tempo
// price map and flat prices act only as fallbacks.
func New(mode types.Mode, tempo bool, pricings map[string]types.Pricing) *Table {
	if pricings == nil {
		pricings = map[string]types.Pricing{}
	}
	return &Table{mode: mode, tempo: tempo, pricings: pricings}
}

// Tempo reports whether the table prices by day color.
func (t *Table) Tempo() bool {
	return t.tempo
}

// defaultPrice is the last-resort per-label price. Its use always signals a
// configuration gap, so callers log when it activates.
func (t *Table) defaultPrice(label string) float64 {
	if t.mode == types.ModeProduction {
		return types.DefaultProductionPrice
	}
	if label == types.LabelOffpeak {
		return types.DefaultOffpeakPrice
	}
	return types.DefaultConsumptionPrice
}

// PriceFor returns the unit price for a label on a given date. On a tempo
// subscription the day color is resolved through lookup; a missing color
// falls back to the configured flat price (or the package default) and logs
// a warning, it never fails.
func (t *Table) PriceFor(ctx context.Context, label string, date time.Time, lookup ColorLookup) float64 {
	pricing, ok := t.pricings[label]
	if !ok {
		price := t.defaultPrice(label)
		log.Ctx(ctx).WarnContext(ctx, "no pricing configured for label, using package default",
			slog.String("label", label),
			slog.Float64("price", price),
		)
		return price
	}

	if t.tempo && pricing.Tempo != nil {
		if lookup != nil {
			if color, ok := lookup(date); ok && color.Valid() {
				price, err := pricing.Tempo.For(color)
				if err == nil {
					return price
				}
			}
		}
		log.Ctx(ctx).WarnContext(ctx, "no tempo color for date, falling back to flat price",
			slog.String("label", label),
			slog.Time("date", date),
		)
	}

	if pricing.Price == 0 {
		price := t.defaultPrice(label)
		log.Ctx(ctx).WarnContext(ctx, "pricing entry has no price, using package default",
			slog.String("label", label),
			slog.Float64("price", price),
		)
		return price
	}
	return pricing.Price
}
