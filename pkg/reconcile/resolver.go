// Package reconcile turns raw interval readings into per-label statistic
// records carrying running cumulative energy and cost sums that exactly
// extend what the statistics store already holds.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/types"
)

// LastPointReader is the slice of the statistics store the resolver needs.
type LastPointReader interface {
	LastPoint(ctx context.Context, statisticID string) (types.StatPoint, bool, error)
}

// SeriesPair names the energy and cost series backing one label.
type SeriesPair struct {
	Label    string
	EnergyID string
	CostID   string
}

// Lookback controls how far back a first-ever collection reaches. The
// external API retains roughly a year of daily data and a week of load
// curve, but deployments disagree on the exact values so both are tunable.
type Lookback struct {
	Daily  time.Duration
	Detail time.Duration
}

// DefaultLookback matches the API's documented retention.
var DefaultLookback = Lookback{
	Daily:  365 * 24 * time.Hour,
	Detail: 7 * 24 * time.Hour,
}

// Resolution is the outcome of cursor resolution: where the next collection
// starts and the seed cursors for each label.
type Resolution struct {
	Start   time.Time
	Cursors map[string]types.Cursor
}

// Resolve seeds one cursor per label from the store's last persisted points
// and derives the next collection start date.
//
// With no prior point anywhere, the start falls back lookback-far in the
// past according to the service granularity. With a prior point at T the
// collection resumes strictly after it: T+24h for daily services, T+1h for
// detail services. When a label's cost series disagrees with its energy
// series on the last timestamp this is logged as a consistency anomaly and
// the energy series stays authoritative.
func Resolve(ctx context.Context, reader LastPointReader, service types.Service, pairs []SeriesPair, now time.Time, lookback Lookback) (Resolution, error) {
	res := Resolution{Cursors: make(map[string]types.Cursor, len(pairs))}

	var last time.Time
	for _, pair := range pairs {
		energy, energyFound, err := reader.LastPoint(ctx, pair.EnergyID)
		if err != nil {
			return Resolution{}, err
		}
		cost, costFound, err := reader.LastPoint(ctx, pair.CostID)
		if err != nil {
			return Resolution{}, err
		}

		if energyFound && costFound && !energy.Start.Equal(cost.Start) {
			log.Ctx(ctx).WarnContext(ctx, "energy and cost series out of step, energy timestamp is authoritative",
				slog.String("label", pair.Label),
				slog.Time("energy", energy.Start),
				slog.Time("cost", cost.Start),
			)
		}

		cursor := types.Cursor{Label: pair.Label}
		if energyFound {
			cursor.EnergySum = energy.Sum
			cursor.LastTimestamp = energy.Start
			if energy.Start.After(last) {
				last = energy.Start
			}
		}
		if costFound {
			cursor.CostSum = cost.Sum
		}
		res.Cursors[pair.Label] = cursor

		log.Ctx(ctx).DebugContext(ctx, "resolved cursor",
			slog.String("label", pair.Label),
			slog.Float64("energySum", cursor.EnergySum),
			slog.Float64("costSum", cursor.CostSum),
			slog.Time("last", cursor.LastTimestamp),
		)
	}

	res.Start = NextStart(last, service, now, lookback)
	return res, nil
}

// NextStart computes the collection start date from the last written
// timestamp, or the default lookback window when the series is empty.
func NextStart(last time.Time, service types.Service, now time.Time, lookback Lookback) time.Time {
	if last.IsZero() {
		if service.Detail() {
			return now.Add(-lookback.Detail)
		}
		return now.Add(-lookback.Daily)
	}
	if service.Detail() {
		return last.Add(time.Hour)
	}
	return last.Add(24 * time.Hour)
}
