package entity

import (
	"time"

	"github.com/wattsync/wattsync/pkg/config"
	"github.com/wattsync/wattsync/pkg/intervals"
	"github.com/wattsync/wattsync/pkg/types"
)

// ForMeter builds the full entity set for one configured meter: an energy
// and cost summary per statistic series, the tempo and ecowatt sensors
// when enabled, the consent diagnostic, and an offpeak indicator when the
// meter declares offpeak windows. The returned teardown stops the offpeak
// timer and must be called when the meter is unloaded.
func ForMeter(source Source, m config.Meter) ([]Entity, func()) {
	var entities []Entity

	for _, sc := range []struct {
		mode types.Mode
		cfg  *config.SeriesConfig
	}{
		{types.ModeConsumption, m.Consumption},
		{types.ModeProduction, m.Production},
	} {
		if sc.cfg == nil {
			continue
		}
		for _, label := range intervals.FromWindows(sc.cfg.Intervals).Labels() {
			entities = append(entities,
				NewEnergySummary(source, types.StatisticID(m.PDL, sc.mode, label), types.UnitKWH),
				NewEnergySummary(source, types.CostStatisticID(m.PDL, sc.mode, label), types.UnitEuro),
			)
		}
	}

	if m.Tempo {
		entities = append(entities, NewTempoDay(source, m.PDL))
	}
	if m.Ecowatt {
		entities = append(entities, NewEcowatt(source, m.PDL))
	}
	entities = append(entities, NewConsent(source, m.PDL))

	teardown := func() {}
	if m.Consumption != nil && len(m.Consumption.Intervals) > 0 {
		offpeak := NewOffpeak(m.PDL, intervals.FromWindows(m.Consumption.Intervals), time.Minute)
		entities = append(entities, offpeak)
		teardown = offpeak.Close
	}

	return entities, teardown
}
