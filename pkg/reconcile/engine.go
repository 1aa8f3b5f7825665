package reconcile

import (
	"context"
	"log/slog"
	"sort"

	"github.com/wattsync/wattsync/pkg/intervals"
	"github.com/wattsync/wattsync/pkg/log"
	"github.com/wattsync/wattsync/pkg/tariff"
	"github.com/wattsync/wattsync/pkg/types"
)

// Input bundles everything one reconciliation pass needs. The seed cursors
// are taken by value: running the same input twice yields identical output.
type Input struct {
	Readings []types.Reading
	Model    *intervals.Model
	Tariffs  *tariff.Table

	// Cursors seed the running sums per label. Labels missing from the map
	// start from zero.
	Cursors map[string]types.Cursor

	// Colors resolves the tempo day color for a reading's calendar date.
	// May be nil for flat-priced subscriptions.
	Colors tariff.ColorLookup
}

// Run reconciles readings into statistic records in chronological order.
//
// Each reading is classified into a label, added to that label's running
// energy sum, and priced through the tariff table to extend the running
// cost sum. Sums are never rounded here; rounding happens only at the
// display boundary. A reading without a detectable value advances the
// label's cursor but produces no record, and a zero resolved price
// suppresses only the cost half of the record.
//
// The returned cursors are the advanced copies of the seeds; the input map
// is left untouched.
func Run(ctx context.Context, in Input) ([]types.Record, map[string]types.Cursor) {
	readings := make([]types.Reading, len(in.Readings))
	copy(readings, in.Readings)
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp.Before(readings[j].Timestamp)
	})

	cursors := make(map[string]types.Cursor, len(in.Cursors))
	for label, c := range in.Cursors {
		cursors[label] = c
	}

	model := in.Model
	if model == nil {
		model = intervals.New()
	}

	records := make([]types.Record, 0, len(readings))
	for _, reading := range readings {
		label := model.Classify(reading.Timestamp)
		cursor, ok := cursors[label]
		if !ok {
			cursor = types.Cursor{Label: label}
		}

		if reading.ValueKWH == 0 {
			// nothing detectable to report, but the pass still covered this
			// timestamp
			cursor.LastTimestamp = reading.Timestamp
			cursors[label] = cursor
			continue
		}

		cursor.EnergySum += reading.ValueKWH
		record := types.Record{
			Label:       label,
			Timestamp:   reading.Timestamp,
			EnergyValue: reading.ValueKWH,
			EnergySum:   cursor.EnergySum,
		}

		price := in.Tariffs.PriceFor(ctx, label, reading.Timestamp, in.Colors)
		if price > 0 {
			record.CostValue = reading.ValueKWH * price
			cursor.CostSum += record.CostValue
			record.CostSum = cursor.CostSum
			record.HasCost = true
		} else {
			log.Ctx(ctx).DebugContext(ctx, "no price resolved, skipping cost record",
				slog.String("label", label),
				slog.Time("timestamp", reading.Timestamp),
			)
		}

		cursor.LastTimestamp = reading.Timestamp
		cursors[label] = cursor
		records = append(records, record)
	}

	return records, cursors
}

// GroupByLabel splits records into per-label chronological sub-sequences
// for delivery to the statistics writer. Grouping is a writer concern; the
// reconciliation output itself stays in input order.
func GroupByLabel(records []types.Record) map[string][]types.Record {
	grouped := make(map[string][]types.Record)
	for _, r := range records {
		grouped[r.Label] = append(grouped[r.Label], r)
	}
	return grouped
}
