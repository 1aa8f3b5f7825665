package meterapi

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/wattsync/wattsync/pkg/types"
)

// MockAPI is a testify mock of the API interface.
type MockAPI struct {
	mock.Mock
}

var _ API = (*MockAPI)(nil)

func (m *MockAPI) FetchReadings(ctx context.Context, service types.Service, start, end time.Time) ([]types.Reading, error) {
	args := m.Called(ctx, service, start, end)
	if len(args) > 0 {
		readings, _ := args.Get(0).([]types.Reading)
		return readings, args.Error(1)
	}
	return nil, nil
}

func (m *MockAPI) TempoDays(ctx context.Context, start, end time.Time) (map[string]types.TempoColor, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		days, _ := args.Get(0).(map[string]types.TempoColor)
		return days, args.Error(1)
	}
	return nil, nil
}

func (m *MockAPI) EcowattDay(ctx context.Context, day time.Time) (*types.EcowattSignal, error) {
	args := m.Called(ctx, day)
	if len(args) > 0 {
		signal, _ := args.Get(0).(*types.EcowattSignal)
		return signal, args.Error(1)
	}
	return nil, nil
}

func (m *MockAPI) Contract(ctx context.Context) (types.ContractInfo, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.ContractInfo), args.Error(1)
	}
	return types.ContractInfo{}, nil
}

func (m *MockAPI) Access(ctx context.Context) (types.AccessInfo, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.AccessInfo), args.Error(1)
	}
	return types.AccessInfo{}, nil
}
