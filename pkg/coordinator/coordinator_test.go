package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wattsync/wattsync/pkg/config"
	"github.com/wattsync/wattsync/pkg/meterapi"
	"github.com/wattsync/wattsync/pkg/reconcile"
	"github.com/wattsync/wattsync/pkg/statstore"
	"github.com/wattsync/wattsync/pkg/statstore/statstoremock"
	"github.com/wattsync/wattsync/pkg/types"
)

const testPDL = "12345678901234"

func testMeter() config.Meter {
	return config.Meter{
		PDL:   testPDL,
		Token: "token",
		Consumption: &config.SeriesConfig{
			Service: types.ServiceDailyConsumption,
			Pricings: map[string]types.Pricing{
				types.LabelStandard: {Price: 0.2},
			},
		},
	}
}

func testCoordinator(m config.Meter, api meterapi.API, store statstore.Store) *Coordinator {
	c := New(m, api, store, reconcile.DefaultLookback, time.Hour)
	c.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func TestRefresh(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	day1 := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	mockAPI.On("Contract", mock.Anything).Return(types.ContractInfo{}, nil)
	mockAPI.On("Access", mock.Anything).Return(types.AccessInfo{Valid: true}, nil)
	mockAPI.On("FetchReadings", mock.Anything, types.ServiceDailyConsumption, mock.Anything, mock.Anything).
		Return([]types.Reading{
			{Timestamp: day1, ValueKWH: 5},
			{Timestamp: day2, ValueKWH: 6},
		}, nil)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	costID := types.CostStatisticID(testPDL, types.ModeConsumption, types.LabelStandard)

	mockStore.On("LastPoint", mock.Anything, energyID).Return(types.StatPoint{}, false, nil)
	mockStore.On("LastPoint", mock.Anything, costID).Return(types.StatPoint{}, false, nil)
	mockStore.On("UpsertSeries", mock.Anything,
		mock.MatchedBy(func(m types.SeriesMeta) bool { return m.StatisticID == energyID && m.Unit == types.UnitKWH }),
		mock.MatchedBy(func(points []types.StatPoint) bool {
			return len(points) == 2 && points[0].Sum == 5 && points[1].Sum == 11
		})).Return(nil)
	mockStore.On("UpsertSeries", mock.Anything,
		mock.MatchedBy(func(m types.SeriesMeta) bool { return m.StatisticID == costID && m.Unit == types.UnitEuro }),
		mock.MatchedBy(func(points []types.StatPoint) bool {
			return len(points) == 2 && points[1].Sum > 2.199 && points[1].Sum < 2.201
		})).Return(nil)

	c := testCoordinator(testMeter(), mockAPI, mockStore)

	var notified bool
	c.Subscribe(func() { notified = true })

	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, testPDL, snap.PDL)
	assert.Equal(t, 11.0, snap.Summaries[energyID])
	assert.Equal(t, 2.2, snap.Summaries[costID])
	assert.True(t, snap.Access.Valid)
	assert.True(t, snap.LastStatistic.Equal(day2))
	assert.False(t, snap.LastRefresh.Before(now))
	assert.True(t, notified)

	mockAPI.AssertExpectations(t)
	mockStore.AssertExpectations(t)
}

func TestRefreshUpToDate(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	// last point within 24h of now, nothing to fetch
	last := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mockAPI.On("Contract", mock.Anything).Return(types.ContractInfo{}, nil)
	mockAPI.On("Access", mock.Anything).Return(types.AccessInfo{Valid: true}, nil)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	costID := types.CostStatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	mockStore.On("LastPoint", mock.Anything, energyID).
		Return(types.StatPoint{Start: last, State: 4, Sum: 40}, true, nil)
	mockStore.On("LastPoint", mock.Anything, costID).
		Return(types.StatPoint{Start: last, State: 0.8, Sum: 8}, true, nil)

	c := testCoordinator(testMeter(), mockAPI, mockStore)
	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Snapshot()
	assert.Equal(t, 40.0, snap.Summaries[energyID])
	assert.Equal(t, 8.0, snap.Summaries[costID])

	mockAPI.AssertNotCalled(t, "FetchReadings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "UpsertSeries", mock.Anything, mock.Anything, mock.Anything)
}

func TestRefreshLimitReachedKeepsCommits(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	m := testMeter()
	m.Production = &config.SeriesConfig{
		Service: types.ServiceDailyProduction,
		Pricings: map[string]types.Pricing{
			types.LabelStandard: {Price: 0.06},
		},
	}

	mockAPI.On("Contract", mock.Anything).Return(types.ContractInfo{}, nil)
	mockAPI.On("Access", mock.Anything).Return(types.AccessInfo{QuotaReached: true}, nil)

	prodEnergyID := types.StatisticID(testPDL, types.ModeProduction, types.LabelStandard)
	prodCostID := types.CostStatisticID(testPDL, types.ModeProduction, types.LabelStandard)
	mockStore.On("LastPoint", mock.Anything, prodEnergyID).Return(types.StatPoint{}, false, nil)
	mockStore.On("LastPoint", mock.Anything, prodCostID).Return(types.StatPoint{}, false, nil)

	// production runs first and hits the quota
	mockAPI.On("FetchReadings", mock.Anything, types.ServiceDailyProduction, mock.Anything, mock.Anything).
		Return([]types.Reading(nil), meterapi.ErrLimitReached)

	c := testCoordinator(m, mockAPI, mockStore)
	require.NoError(t, c.Refresh(context.Background()))

	// consumption was never attempted, snapshot still published
	mockAPI.AssertNotCalled(t, "FetchReadings", mock.Anything, types.ServiceDailyConsumption, mock.Anything, mock.Anything)
	assert.True(t, c.Snapshot().Access.QuotaReached)
}

func TestRefreshQuotaKeepsLastKnownSummaries(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	day1 := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	mockAPI.On("Contract", mock.Anything).Return(types.ContractInfo{}, nil)
	mockAPI.On("Access", mock.Anything).Return(types.AccessInfo{Valid: true}, nil)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	costID := types.CostStatisticID(testPDL, types.ModeConsumption, types.LabelStandard)

	// first cycle collects normally
	mockStore.On("LastPoint", mock.Anything, energyID).Return(types.StatPoint{}, false, nil).Once()
	mockStore.On("LastPoint", mock.Anything, costID).Return(types.StatPoint{}, false, nil).Once()
	mockAPI.On("FetchReadings", mock.Anything, types.ServiceDailyConsumption, mock.Anything, mock.Anything).
		Return([]types.Reading{
			{Timestamp: day1, ValueKWH: 5},
			{Timestamp: day2, ValueKWH: 6},
		}, nil).Once()
	mockStore.On("UpsertSeries", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	// second cycle resolves past the stored points and hits the quota
	mockStore.On("LastPoint", mock.Anything, energyID).
		Return(types.StatPoint{Start: day2, State: 6, Sum: 11}, true, nil).Once()
	mockStore.On("LastPoint", mock.Anything, costID).
		Return(types.StatPoint{Start: day2, State: 1.2, Sum: 2.2}, true, nil).Once()
	mockAPI.On("FetchReadings", mock.Anything, types.ServiceDailyConsumption, mock.Anything, mock.Anything).
		Return([]types.Reading(nil), meterapi.ErrLimitReached).Once()

	c := testCoordinator(testMeter(), mockAPI, mockStore)

	require.NoError(t, c.Refresh(context.Background()))
	require.Equal(t, 11.0, c.Snapshot().Summaries[energyID])

	require.NoError(t, c.Refresh(context.Background()))

	// the aborted mode keeps showing the last-known sums
	snap := c.Snapshot()
	assert.Equal(t, 11.0, snap.Summaries[energyID])
	assert.Equal(t, 2.2, snap.Summaries[costID])
	assert.True(t, snap.LastStatistic.Equal(day2))

	mockAPI.AssertExpectations(t)
	mockStore.AssertExpectations(t)
}

func TestRefreshErrorKeepsLastSnapshot(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	mockAPI.On("Contract", mock.Anything).Return(types.ContractInfo{}, assert.AnError)

	c := testCoordinator(testMeter(), mockAPI, mockStore)
	require.Error(t, c.Refresh(context.Background()))

	// snapshot untouched, consumers keep last-known values
	snap := c.Snapshot()
	assert.Equal(t, testPDL, snap.PDL)
	assert.True(t, snap.LastRefresh.IsZero())
}

func TestRefreshTempo(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	m := testMeter()
	m.Tempo = true
	m.Consumption.Pricings = map[string]types.Pricing{
		types.LabelStandard: {Tempo: &types.TempoPricing{Blue: 0.1, White: 0.2, Red: 0.5}},
	}

	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	mockAPI.On("Contract", mock.Anything).Return(types.ContractInfo{}, nil)
	mockAPI.On("Access", mock.Anything).Return(types.AccessInfo{Valid: true}, nil)
	mockAPI.On("TempoDays", mock.Anything, mock.Anything, mock.Anything).
		Return(map[string]types.TempoColor{
			"2026-03-09": types.TempoRed,
			"2026-03-10": types.TempoBlue,
		}, nil)
	mockAPI.On("FetchReadings", mock.Anything, types.ServiceDailyConsumption, mock.Anything, mock.Anything).
		Return([]types.Reading{{Timestamp: day, ValueKWH: 10}}, nil)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	costID := types.CostStatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	mockStore.On("LastPoint", mock.Anything, energyID).Return(types.StatPoint{}, false, nil)
	mockStore.On("LastPoint", mock.Anything, costID).Return(types.StatPoint{}, false, nil)
	mockStore.On("UpsertSeries", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	c := testCoordinator(m, mockAPI, mockStore)
	require.NoError(t, c.Refresh(context.Background()))

	snap := c.Snapshot()
	// 10 kWh on a red day at 0.5
	assert.Equal(t, 5.0, snap.Summaries[costID])
	// today's color surfaced on the snapshot
	assert.Equal(t, types.TempoBlue, snap.TempoDay)
}

func TestClearSeries(t *testing.T) {
	mockStore := &statstoremock.MockStore{}
	c := testCoordinator(testMeter(), &meterapi.MockAPI{}, mockStore)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)

	// a single foreign ID rejects the whole request before anything is
	// deleted
	err := c.ClearSeries(context.Background(), []string{energyID, "sensor.house_energy"})
	require.ErrorIs(t, err, statstore.ErrOutsideNamespace)
	mockStore.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything)

	mockStore.On("Clear", mock.Anything, energyID).Return(nil)
	require.NoError(t, c.ClearSeries(context.Background(), []string{energyID}))
	mockStore.AssertExpectations(t)
}

func TestNormalize(t *testing.T) {
	mockStore := &statstoremock.MockStore{}
	c := testCoordinator(testMeter(), &meterapi.MockAPI{}, mockStore)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	costID := types.CostStatisticID(testPDL, types.ModeConsumption, types.LabelStandard)

	day1 := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	mockStore.On("Points", mock.Anything, energyID).Return([]types.StatPoint{
		{Start: day1, State: 5, Sum: 5},
		{Start: day2, State: 6, Sum: 20}, // broken sum
	}, nil)
	mockStore.On("Points", mock.Anything, costID).Return([]types.StatPoint{}, nil)
	mockStore.On("UpsertSeries", mock.Anything,
		mock.MatchedBy(func(m types.SeriesMeta) bool { return m.StatisticID == energyID }),
		mock.MatchedBy(func(points []types.StatPoint) bool {
			return len(points) == 2 && points[0].Sum == 5 && points[1].Sum == 11
		})).Return(nil)

	require.NoError(t, c.Normalize(context.Background()))
	mockStore.AssertExpectations(t)
}

func TestFetchHistory(t *testing.T) {
	mockAPI := &meterapi.MockAPI{}
	mockStore := &statstoremock.MockStore{}

	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	day1 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	mockAPI.On("FetchReadings", mock.Anything, types.ServiceDailyConsumption, start, end).
		Return([]types.Reading{
			{Timestamp: day1, ValueKWH: 3},
			{Timestamp: day2, ValueKWH: 4},
		}, nil)

	energyID := types.StatisticID(testPDL, types.ModeConsumption, types.LabelStandard)
	costID := types.CostStatisticID(testPDL, types.ModeConsumption, types.LabelStandard)

	// the price override applies instead of the configured pricing
	mockStore.On("UpsertSeries", mock.Anything,
		mock.MatchedBy(func(m types.SeriesMeta) bool { return m.StatisticID == costID }),
		mock.MatchedBy(func(points []types.StatPoint) bool {
			return len(points) == 2 && points[0].State == 1.5
		})).Return(nil)
	mockStore.On("UpsertSeries", mock.Anything,
		mock.MatchedBy(func(m types.SeriesMeta) bool { return m.StatisticID == energyID }),
		mock.Anything).Return(nil)

	// sums already consistent, the normalize pass rewrites nothing
	mockStore.On("Points", mock.Anything, energyID).Return([]types.StatPoint{
		{Start: day1, State: 3, Sum: 3},
		{Start: day2, State: 4, Sum: 7},
	}, nil)
	mockStore.On("Points", mock.Anything, costID).Return([]types.StatPoint{
		{Start: day1, State: 1.5, Sum: 1.5},
		{Start: day2, State: 2, Sum: 3.5},
	}, nil)

	c := testCoordinator(testMeter(), mockAPI, mockStore)
	err := c.FetchHistory(context.Background(), HistoryParams{
		Service: types.ServiceDailyConsumption,
		Start:   start,
		End:     end,
		Price:   0.5,
	})
	require.NoError(t, err)

	mockAPI.AssertExpectations(t)
	mockStore.AssertExpectations(t)
}

func TestHistoryParamsValidate(t *testing.T) {
	now := time.Now()

	assert.NoError(t, HistoryParams{
		Service: types.ServiceDailyConsumption,
		Start:   now.Add(-48 * time.Hour),
		End:     now,
	}.Validate())

	assert.Error(t, HistoryParams{Service: "bogus", Start: now.Add(-time.Hour), End: now}.Validate())
	assert.Error(t, HistoryParams{Service: types.ServiceDailyConsumption, Start: now, End: now}.Validate())
	assert.Error(t, HistoryParams{
		Service: types.ServiceDailyConsumption,
		Start:   now.Add(-time.Hour), End: now, Price: -1,
	}.Validate())
}

func TestFetchHistoryModeNotConfigured(t *testing.T) {
	c := testCoordinator(testMeter(), &meterapi.MockAPI{}, &statstoremock.MockStore{})
	err := c.FetchHistory(context.Background(), HistoryParams{
		Service: types.ServiceDailyProduction,
		Start:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorContains(t, err, "not configured")
}
