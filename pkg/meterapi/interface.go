package meterapi

import (
	"context"
	"time"

	"github.com/wattsync/wattsync/pkg/types"
)

// API defines the interface for fetching metering data for one meter.
type API interface {
	// FetchReadings returns interval readings for [start, end) at the
	// granularity selected by service.
	FetchReadings(ctx context.Context, service types.Service, start, end time.Time) ([]types.Reading, error)

	// TempoDays returns the tempo day color per calendar date ("2006-01-02"
	// keys) for [start, end).
	TempoDays(ctx context.Context, start, end time.Time) (map[string]types.TempoColor, error)

	// EcowattDay returns the grid strain signal for the given day, or nil
	// when none is published.
	EcowattDay(ctx context.Context, day time.Time) (*types.EcowattSignal, error)

	// Contract returns the meter's contract information.
	Contract(ctx context.Context) (types.ContractInfo, error)

	// Access returns the consent and quota state of the API token.
	Access(ctx context.Context) (types.AccessInfo, error)
}
