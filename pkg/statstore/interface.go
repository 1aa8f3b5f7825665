// Package statstore persists long-term statistic series: append-style
// sequences of (start, state, sum) points identified by a namespaced ID.
package statstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/wattsync/wattsync/pkg/types"
)

// Store defines the interface for persisting statistic series.
type Store interface {
	// UpsertSeries appends or overwrites points in the series described by
	// meta. It is idempotent for identical (statistic ID, start) pairs: the
	// store de-duplicates by point start time.
	UpsertSeries(ctx context.Context, meta types.SeriesMeta, points []types.StatPoint) error

	// LastPoint returns the most recent point of the series, or false when
	// the series has no points yet.
	LastPoint(ctx context.Context, statisticID string) (types.StatPoint, bool, error)

	// Points returns the series' points ordered by start time. Used by the
	// normalization pass to recompute sums.
	Points(ctx context.Context, statisticID string) ([]types.StatPoint, error)

	// Clear deletes the series. Implementations must refuse IDs outside this
	// service's namespace; see CheckNamespace.
	Clear(ctx context.Context, statisticID string) error

	// Lifecycle
	Close() error
}

// ErrOutsideNamespace is returned for destructive requests naming a
// statistic ID that this service does not own.
var ErrOutsideNamespace = fmt.Errorf("statistic ID outside the %s namespace", types.StatisticPrefix)

// CheckNamespace validates that the statistic ID is owned by this service.
// Every Store implementation calls this before clearing a series.
func CheckNamespace(statisticID string) error {
	if !strings.HasPrefix(statisticID, types.StatisticPrefix) ||
		len(statisticID) == len(types.StatisticPrefix) {
		return fmt.Errorf("%w: %s", ErrOutsideNamespace, statisticID)
	}
	return nil
}
