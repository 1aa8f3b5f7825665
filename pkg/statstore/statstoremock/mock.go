package statstoremock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/wattsync/wattsync/pkg/statstore"
	"github.com/wattsync/wattsync/pkg/types"
)

type MockStore struct {
	mock.Mock
}

var _ statstore.Store = (*MockStore)(nil)

func (m *MockStore) UpsertSeries(ctx context.Context, meta types.SeriesMeta, points []types.StatPoint) error {
	args := m.Called(ctx, meta, points)
	return args.Error(0)
}

func (m *MockStore) LastPoint(ctx context.Context, statisticID string) (types.StatPoint, bool, error) {
	args := m.Called(ctx, statisticID)
	if len(args) > 0 {
		return args.Get(0).(types.StatPoint), args.Bool(1), args.Error(2)
	}
	return types.StatPoint{}, false, nil
}

func (m *MockStore) Points(ctx context.Context, statisticID string) ([]types.StatPoint, error) {
	args := m.Called(ctx, statisticID)
	if len(args) > 0 {
		return args.Get(0).([]types.StatPoint), args.Error(1)
	}
	return nil, nil
}

func (m *MockStore) Clear(ctx context.Context, statisticID string) error {
	args := m.Called(ctx, statisticID)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
