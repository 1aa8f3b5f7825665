package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattsync/wattsync/pkg/statstore/statstoremock"
	"github.com/wattsync/wattsync/pkg/types"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestNextStartEmptySeries(t *testing.T) {
	start := NextStart(time.Time{}, types.ServiceDailyConsumption, now, DefaultLookback)
	assert.Equal(t, now.Add(-365*24*time.Hour), start)

	start = NextStart(time.Time{}, types.ServiceConsumptionCurve, now, DefaultLookback)
	assert.Equal(t, now.Add(-7*24*time.Hour), start)

	// the lookback window is a deployment choice, not a constant
	start = NextStart(time.Time{}, types.ServiceDailyProduction, now, Lookback{Daily: 1095 * 24 * time.Hour, Detail: 6 * 24 * time.Hour})
	assert.Equal(t, now.Add(-1095*24*time.Hour), start)
}

func TestNextStartResumesAfterLastPoint(t *testing.T) {
	last := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)

	// daily granularity resumes one day later
	start := NextStart(last, types.ServiceDailyConsumption, now, DefaultLookback)
	assert.Equal(t, last.Add(24*time.Hour), start)

	// sub-daily granularity resumes one hour later
	start = NextStart(last, types.ServiceProductionCurve, now, DefaultLookback)
	assert.Equal(t, last.Add(time.Hour), start)
}

func TestResolveSeedsCursors(t *testing.T) {
	last := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)

	store := &statstoremock.MockStore{}
	store.On("LastPoint", mock.Anything, "wattsync:pdl_consumption_standard").
		Return(types.StatPoint{Start: last, Sum: 42.5}, true, nil)
	store.On("LastPoint", mock.Anything, "wattsync:pdl_consumption_standard_cost").
		Return(types.StatPoint{Start: last, Sum: 7.25}, true, nil)
	store.On("LastPoint", mock.Anything, "wattsync:pdl_consumption_offpeak").
		Return(types.StatPoint{}, false, nil)
	store.On("LastPoint", mock.Anything, "wattsync:pdl_consumption_offpeak_cost").
		Return(types.StatPoint{}, false, nil)

	pairs := []SeriesPair{
		{Label: types.LabelStandard, EnergyID: "wattsync:pdl_consumption_standard", CostID: "wattsync:pdl_consumption_standard_cost"},
		{Label: types.LabelOffpeak, EnergyID: "wattsync:pdl_consumption_offpeak", CostID: "wattsync:pdl_consumption_offpeak_cost"},
	}

	res, err := Resolve(context.Background(), store, types.ServiceDailyConsumption, pairs, now, DefaultLookback)
	require.NoError(t, err)

	assert.Equal(t, last.Add(24*time.Hour), res.Start)

	std := res.Cursors[types.LabelStandard]
	assert.Equal(t, 42.5, std.EnergySum)
	assert.Equal(t, 7.25, std.CostSum)
	assert.Equal(t, last, std.LastTimestamp)

	// the offpeak series is brand new: zero seed, lookback not triggered
	// because the standard series anchors the start
	off := res.Cursors[types.LabelOffpeak]
	assert.Zero(t, off.EnergySum)
	assert.Zero(t, off.CostSum)
	assert.True(t, off.LastTimestamp.IsZero())

	store.AssertExpectations(t)
}

func TestResolveCostTimestampDivergence(t *testing.T) {
	energyLast := time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC)
	costLast := energyLast.Add(-24 * time.Hour)

	store := &statstoremock.MockStore{}
	store.On("LastPoint", mock.Anything, "wattsync:pdl_consumption_standard").
		Return(types.StatPoint{Start: energyLast, Sum: 10}, true, nil)
	store.On("LastPoint", mock.Anything, "wattsync:pdl_consumption_standard_cost").
		Return(types.StatPoint{Start: costLast, Sum: 2}, true, nil)

	pairs := []SeriesPair{
		{Label: types.LabelStandard, EnergyID: "wattsync:pdl_consumption_standard", CostID: "wattsync:pdl_consumption_standard_cost"},
	}

	// the anomaly is non-fatal and the energy timestamp wins
	res, err := Resolve(context.Background(), store, types.ServiceDailyConsumption, pairs, now, DefaultLookback)
	require.NoError(t, err)
	assert.Equal(t, energyLast.Add(24*time.Hour), res.Start)
	assert.Equal(t, energyLast, res.Cursors[types.LabelStandard].LastTimestamp)
	assert.Equal(t, 2.0, res.Cursors[types.LabelStandard].CostSum)
}

func TestResolveEmptyStore(t *testing.T) {
	store := &statstoremock.MockStore{}
	store.On("LastPoint", mock.Anything, mock.Anything).Return(types.StatPoint{}, false, nil)

	pairs := []SeriesPair{
		{Label: types.LabelStandard, EnergyID: "wattsync:x", CostID: "wattsync:x_cost"},
	}

	res, err := Resolve(context.Background(), store, types.ServiceConsumptionCurve, pairs, now, DefaultLookback)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-7*24*time.Hour), res.Start)
}
