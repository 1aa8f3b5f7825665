package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wattsync/wattsync/pkg/config"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/reconcile"
	"github.com/wattsync/wattsync/pkg/statstore"
	"github.com/wattsync/wattsync/pkg/tariff"
	"github.com/wattsync/wattsync/pkg/types"
)

// HistoryParams describes a manual backfill request.
type HistoryParams struct {
	Service types.Service `json:"service"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`

	// Price and OffpeakPrice override the configured pricings for this
	// backfill only. Zero means keep the configured value.
	Price        float64 `json:"price,omitempty"`
	OffpeakPrice float64 `json:"offpeakPrice,omitempty"`
}

// Validate checks the request.
func (p HistoryParams) Validate() error {
	if err := p.Service.Validate(); err != nil {
		return err
	}
	if p.Start.IsZero() || p.End.IsZero() || !p.Start.Before(p.End) {
		return fmt.Errorf("start must be before end")
	}
	if p.Price < 0 || p.OffpeakPrice < 0 {
		return fmt.Errorf("prices cannot be negative")
	}
	return nil
}

// FetchHistory re-pulls readings for an arbitrary window and rebuilds the
// affected series. Because the window can overlap existing points, the
// running sums of every touched series are recomputed from scratch
// afterwards.
func (c *Coordinator) FetchHistory(ctx context.Context, p HistoryParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	mode := p.Service.Mode()
	sc := c.meter.Consumption
	if mode == types.ModeProduction {
		sc = c.meter.Production
	}
	if sc == nil {
		return fmt.Errorf("%s is not configured for pdl %s", mode, c.meter.PDL)
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ctx = log.WithPDL(ctx, c.meter.PDL)
	log.Ctx(ctx).InfoContext(ctx, "fetching history",
		slog.String("service", string(p.Service)),
		slog.Time("start", p.Start),
		slog.Time("end", p.End),
	)

	readings, err := c.api.FetchReadings(ctx, p.Service, p.Start, p.End)
	if err != nil {
		c.observeAPIError(err)
		return fmt.Errorf("failed to fetch history: %w", err)
	}

	pricings := overridePricings(sc.Pricings, p.Price, p.OffpeakPrice)
	model := c.intervalModel(sc)

	// sums seeded from zero here are placeholders; the normalize pass
	// below rebuilds them across the full series
	records, _ := reconcile.Run(ctx, reconcile.Input{
		Readings: readings,
		Model:    model,
		Tariffs:  tariff.New(mode, c.meter.Tempo, pricings),
		Colors:   c.colorLookup(),
	})
	if err := c.writeRecords(ctx, mode, records); err != nil {
		return err
	}

	for _, pair := range c.seriesPairs(mode, model) {
		if err := c.normalizeSeries(ctx, pair.EnergyID); err != nil {
			return err
		}
		if err := c.normalizeSeries(ctx, pair.CostID); err != nil {
			return err
		}
	}
	return nil
}

// overridePricings applies manual price overrides to a copy of the
// configured pricings.
func overridePricings(pricings map[string]types.Pricing, price, offpeak float64) map[string]types.Pricing {
	out := make(map[string]types.Pricing, len(pricings))
	for label, p := range pricings {
		out[label] = p
	}
	if price > 0 {
		out[types.LabelStandard] = types.Pricing{Price: price}
	}
	if offpeak > 0 {
		out[types.LabelOffpeak] = types.Pricing{Price: offpeak}
	}
	return out
}

// Normalize recomputes the running sums of every series of this meter
// from the stored per-point states.
func (c *Coordinator) Normalize(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ctx = log.WithPDL(ctx, c.meter.PDL)
	for _, sc := range []struct {
		mode types.Mode
		cfg  *config.SeriesConfig
	}{
		{types.ModeProduction, c.meter.Production},
		{types.ModeConsumption, c.meter.Consumption},
	} {
		if sc.cfg == nil {
			continue
		}
		for _, pair := range c.seriesPairs(sc.mode, c.intervalModel(sc.cfg)) {
			if err := c.normalizeSeries(ctx, pair.EnergyID); err != nil {
				return err
			}
			if err := c.normalizeSeries(ctx, pair.CostID); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizeSeries rewrites one series with sums recomputed as the running
// total of its states. A missing series is not an error.
func (c *Coordinator) normalizeSeries(ctx context.Context, statisticID string) error {
	points, err := c.store.Points(ctx, statisticID)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", statisticID, err)
	}
	if len(points) == 0 {
		return nil
	}

	var sum float64
	changed := false
	for i := range points {
		sum += points[i].State
		if points[i].Sum != sum {
			points[i].Sum = sum
			changed = true
		}
	}
	if !changed {
		return nil
	}

	unit := types.UnitKWH
	if strings.HasSuffix(statisticID, "_cost") {
		unit = types.UnitEuro
	}
	meta := types.SeriesMeta{StatisticID: statisticID, Name: statisticID, Unit: unit}
	if err := c.store.UpsertSeries(ctx, meta, points); err != nil {
		return fmt.Errorf("failed to rewrite %s: %w", statisticID, err)
	}
	log.Ctx(ctx).InfoContext(ctx, "normalized series",
		slog.String("statisticID", statisticID), slog.Int("points", len(points)))
	return nil
}

// ClearSeries deletes statistic series. Every requested ID must be inside
// the service's namespace; the whole request is rejected before anything
// is deleted otherwise.
func (c *Coordinator) ClearSeries(ctx context.Context, statisticIDs []string) error {
	for _, id := range statisticIDs {
		if err := statstore.CheckNamespace(id); err != nil {
			return err
		}
	}

	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ctx = log.WithPDL(ctx, c.meter.PDL)
	for _, id := range statisticIDs {
		if err := c.store.Clear(ctx, id); err != nil {
			return fmt.Errorf("failed to clear %s: %w", id, err)
		}
	}
	return nil
}
