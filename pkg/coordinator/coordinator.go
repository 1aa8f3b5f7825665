// Package coordinator drives the refresh pipeline for one meter: it
// resolves cursors against the statistics store, pulls readings from the
// metering API, reconciles them into cumulative records and writes the
// results back, then publishes an immutable snapshot for the display
// layer.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/wattsync/wattsync/pkg/config"
	"github.com/wattsync/wattsync/pkg/intervals"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/meterapi"
	"github.com/wattsync/wattsync/pkg/metrics"
	"github.com/wattsync/wattsync/pkg/reconcile"
	"github.com/wattsync/wattsync/pkg/statstore"
	"github.com/wattsync/wattsync/pkg/tariff"
	"github.com/wattsync/wattsync/pkg/types"
)

// detailFetchWindow caps how far a single cycle fetches from a load
// curve service.
const detailFetchWindow = 7 * 24 * time.Hour

// Coordinator owns the refresh lifecycle of a single meter. One cycle
// runs to completion before the next can start; refresh triggers are
// serialized.
type Coordinator struct {
	meter    config.Meter
	api      meterapi.API
	store    statstore.Store
	lookback reconcile.Lookback
	interval time.Duration

	now func() time.Time

	// cycleMu serializes refresh cycles and the history actions.
	cycleMu sync.Mutex

	snapMu sync.RWMutex
	snap   types.MeterSnapshot

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int

	// aux state refreshed at most once per calendar day
	auxDay      time.Time
	tempoColors map[string]types.TempoColor
	ecowatt     *types.EcowattSignal
	contract    types.ContractInfo

	trigger chan struct{}
}

// New builds a Coordinator for one configured meter.
func New(meter config.Meter, api meterapi.API, store statstore.Store, lookback reconcile.Lookback, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 3 * time.Hour
	}
	return &Coordinator{
		meter:       meter,
		api:         api,
		store:       store,
		lookback:    lookback,
		interval:    interval,
		now:         time.Now,
		subs:        map[int]func(){},
		tempoColors: map[string]types.TempoColor{},
		snap:        types.MeterSnapshot{PDL: meter.PDL},
		trigger:     make(chan struct{}, 1),
	}
}

// Meter returns the meter configuration this coordinator was built with.
func (c *Coordinator) Meter() config.Meter {
	return c.meter
}

// PDL returns the delivery point this coordinator serves.
func (c *Coordinator) PDL() string {
	return c.meter.PDL
}

// Snapshot returns the meter state as of the last completed cycle.
func (c *Coordinator) Snapshot() types.MeterSnapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe registers a callback fired after each completed cycle. The
// returned function unregisters it.
func (c *Coordinator) Subscribe(fn func()) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Coordinator) notify() {
	c.subMu.Lock()
	fns := make([]func(), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Trigger requests an out-of-band refresh. It never blocks; a trigger
// while one is already pending is a no-op.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes on the configured interval until ctx is cancelled. An
// initial refresh runs immediately.
func (c *Coordinator) Run(ctx context.Context) {
	ctx = log.WithPDL(ctx, c.meter.PDL)
	if err := c.Refresh(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "initial refresh failed", slog.Any("error", err))
	}

	t := time.NewTicker(c.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-c.trigger:
		}
		if err := c.Refresh(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "refresh failed", slog.Any("error", err))
		}
	}
}

// Refresh runs one full cycle: auxiliary data, then production, then
// consumption. On failure the previous snapshot is retained so consumers
// keep showing last-known values.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	ctx = log.WithPDL(ctx, c.meter.PDL)
	start := c.now()
	err := c.refresh(ctx)
	metrics.ObserveRefresh(c.meter.PDL, start, err)
	if err != nil {
		return err
	}
	c.notify()
	return nil
}

func (c *Coordinator) refresh(ctx context.Context) error {
	now := c.now()

	if err := c.refreshAux(ctx, now); err != nil {
		return err
	}

	access, err := c.api.Access(ctx)
	if err != nil {
		c.observeAPIError(err)
		return fmt.Errorf("failed to check access: %w", err)
	}

	// carry the last-known sums so a mode aborted by the quota keeps
	// showing stale values instead of dropping off
	c.snapMu.RLock()
	prev := c.snap
	c.snapMu.RUnlock()
	summaries := make(map[string]float64, len(prev.Summaries))
	for id, sum := range prev.Summaries {
		summaries[id] = sum
	}
	lastStatistic := prev.LastStatistic

	// production first, then consumption: both modes of a meter share the
	// API quota and consumption is the one users watch, so it goes last
	// where a mid-cycle quota exhaustion already has production banked
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
		last, err := c.refreshMode(ctx, sc.mode, sc.cfg, now, summaries)
		if errors.Is(err, meterapi.ErrLimitReached) {
			// everything written so far stays; the rest waits for quota
			log.Ctx(ctx).WarnContext(ctx, "api quota reached, aborting cycle early",
				slog.String("mode", string(sc.mode)))
			c.observeAPIError(err)
			break
		}
		if err != nil {
			c.observeAPIError(err)
			return fmt.Errorf("failed to refresh %s: %w", sc.mode, err)
		}
		if last.After(lastStatistic) {
			lastStatistic = last
		}
	}

	snap := types.MeterSnapshot{
		PDL:           c.meter.PDL,
		Summaries:     summaries,
		Ecowatt:       c.ecowatt,
		Access:        access,
		Contract:      c.contract,
		LastAccess:    now,
		LastRefresh:   c.now(),
		LastStatistic: lastStatistic,
	}
	if c.meter.Tempo {
		if color, ok := c.tempoColors[now.Format("2006-01-02")]; ok {
			snap.TempoDay = color
		}
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
	return nil
}

// refreshAux pulls tempo colors, the ecowatt signal and the contract at
// most once per calendar day.
func (c *Coordinator) refreshAux(ctx context.Context, now time.Time) error {
	day := now.Truncate(24 * time.Hour)
	if day.Equal(c.auxDay) {
		return nil
	}

	contract, err := c.api.Contract(ctx)
	if err != nil {
		c.observeAPIError(err)
		return fmt.Errorf("failed to fetch contract: %w", err)
	}
	c.contract = contract

	if c.meter.Tempo {
		// cover the longest possible backfill plus tomorrow's color
		colors, err := c.api.TempoDays(ctx, now.Add(-c.lookback.Daily), now.Add(48*time.Hour))
		if err != nil {
			c.observeAPIError(err)
			return fmt.Errorf("failed to fetch tempo days: %w", err)
		}
		c.tempoColors = colors
	}

	if c.meter.Ecowatt {
		signal, err := c.api.EcowattDay(ctx, now.Add(24*time.Hour))
		if err != nil {
			c.observeAPIError(err)
			return fmt.Errorf("failed to fetch ecowatt: %w", err)
		}
		c.ecowatt = signal
	}

	c.auxDay = day
	return nil
}

// refreshMode runs resolve, fetch, reconcile and write for one direction
// and returns the timestamp of the last written statistic.
func (c *Coordinator) refreshMode(ctx context.Context, mode types.Mode, sc *config.SeriesConfig, now time.Time, summaries map[string]float64) (time.Time, error) {
	model := c.intervalModel(sc)
	pairs := c.seriesPairs(mode, model)

	res, err := reconcile.Resolve(ctx, c.store, sc.Service, pairs, now, c.lookback)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to resolve cursors: %w", err)
	}
	if !res.Start.Before(now) {
		log.Ctx(ctx).DebugContext(ctx, "series already up to date",
			slog.String("mode", string(mode)), slog.Time("next", res.Start))
		c.summarize(summaries, mode, res.Cursors)
		return latestTimestamp(res.Cursors), nil
	}

	end := now
	if sc.Service.Detail() {
		// the upstream API rejects load curve queries wider than a week,
		// so long gaps catch up one window per cycle
		if capped := res.Start.Add(detailFetchWindow); capped.Before(end) {
			end = capped
		}
	}

	readings, err := c.api.FetchReadings(ctx, sc.Service, res.Start, end)
	if err != nil {
		return time.Time{}, err
	}

	records, cursors := reconcile.Run(ctx, reconcile.Input{
		Readings: readings,
		Model:    model,
		Tariffs:  tariff.New(mode, c.meter.Tempo, sc.Pricings),
		Cursors:  res.Cursors,
		Colors:   c.colorLookup(),
	})

	if err := c.writeRecords(ctx, mode, records); err != nil {
		return time.Time{}, err
	}

	c.summarize(summaries, mode, cursors)
	return latestTimestamp(cursors), nil
}

// writeRecords persists reconciled records grouped per label, energy
// series first so a failure between the two writes leaves the energy
// series ahead, which the resolver treats as authoritative.
func (c *Coordinator) writeRecords(ctx context.Context, mode types.Mode, records []types.Record) error {
	for label, group := range reconcile.GroupByLabel(records) {
		energyID, costID := c.seriesIDs(mode, label)

		energyPoints := make([]types.StatPoint, 0, len(group))
		costPoints := make([]types.StatPoint, 0, len(group))
		for _, r := range group {
			energyPoints = append(energyPoints, types.StatPoint{
				Start: r.Timestamp, State: r.EnergyValue, Sum: r.EnergySum,
			})
			if r.HasCost {
				costPoints = append(costPoints, types.StatPoint{
					Start: r.Timestamp, State: r.CostValue, Sum: r.CostSum,
				})
			}
		}

		err := c.store.UpsertSeries(ctx, types.SeriesMeta{
			StatisticID: energyID,
			Name:        c.seriesName(mode, label, false),
			Unit:        types.UnitKWH,
		}, energyPoints)
		if err != nil {
			return fmt.Errorf("failed to write %s: %w", energyID, err)
		}
		metrics.ObserveRecords(c.meter.PDL, string(mode), "energy", len(energyPoints))

		if len(costPoints) > 0 {
			err = c.store.UpsertSeries(ctx, types.SeriesMeta{
				StatisticID: costID,
				Name:        c.seriesName(mode, label, true),
				Unit:        types.UnitEuro,
			}, costPoints)
			if err != nil {
				return fmt.Errorf("failed to write %s: %w", costID, err)
			}
			metrics.ObserveRecords(c.meter.PDL, string(mode), "cost", len(costPoints))
		}
	}
	return nil
}

// intervalModel builds the offpeak window model for a mode. Configured
// intervals win; otherwise the windows are parsed from the contract's
// offpeak-hours text.
func (c *Coordinator) intervalModel(sc *config.SeriesConfig) *intervals.Model {
	if len(sc.Intervals) > 0 {
		return intervals.FromWindows(sc.Intervals)
	}
	if c.contract.OffpeakHours != "" {
		windows, err := intervals.ParseContractHours(c.contract.OffpeakHours)
		if err == nil && len(windows) > 0 {
			return intervals.FromWindows(windows)
		}
	}
	return intervals.New()
}

func (c *Coordinator) seriesPairs(mode types.Mode, model *intervals.Model) []reconcile.SeriesPair {
	labels := model.Labels()
	pairs := make([]reconcile.SeriesPair, 0, len(labels))
	for _, label := range labels {
		energyID, costID := c.seriesIDs(mode, label)
		pairs = append(pairs, reconcile.SeriesPair{Label: label, EnergyID: energyID, CostID: costID})
	}
	return pairs
}

func (c *Coordinator) seriesIDs(mode types.Mode, label string) (energyID, costID string) {
	return types.StatisticID(c.meter.PDL, mode, label), types.CostStatisticID(c.meter.PDL, mode, label)
}

func (c *Coordinator) seriesName(mode types.Mode, label string, cost bool) string {
	name := fmt.Sprintf("%s %s %s", c.meter.PDL, mode, label)
	if cost {
		name += " cost"
	}
	return name
}

func (c *Coordinator) colorLookup() tariff.ColorLookup {
	if !c.meter.Tempo {
		return nil
	}
	return func(date time.Time) (types.TempoColor, bool) {
		color, ok := c.tempoColors[date.Format("2006-01-02")]
		return color, ok
	}
}

// summarize records each label's cumulative sums rounded for display.
func (c *Coordinator) summarize(summaries map[string]float64, mode types.Mode, cursors map[string]types.Cursor) {
	for label, cur := range cursors {
		energyID, costID := c.seriesIDs(mode, label)
		summaries[energyID] = math.Round(cur.EnergySum*100) / 100
		if cur.CostSum > 0 {
			summaries[costID] = math.Round(cur.CostSum*100) / 100
		}
	}
}

func (c *Coordinator) observeAPIError(err error) {
	metrics.ObserveAPIError(c.meter.PDL, errors.Is(err, meterapi.ErrLimitReached))
}

func latestTimestamp(cursors map[string]types.Cursor) time.Time {
	var last time.Time
	for _, cur := range cursors {
		if cur.LastTimestamp.After(last) {
			last = cur.LastTimestamp
		}
	}
	return last
}
