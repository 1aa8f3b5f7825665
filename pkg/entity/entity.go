// Package entity holds the display layer: small read-only views over the
// coordinator's meter snapshot. Entities pull state on demand and are
// notified of upstream refreshes through a callback; the core never
// depends on anything in this package.
package entity

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/wattsync/wattsync/pkg/types"
)

// Value is one read of an entity's state.
type Value struct {
	State     string            `json:"state"`
	Available bool              `json:"available"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Entity is a display surface for one piece of meter state.
type Entity interface {
	// ID uniquely identifies the entity.
	ID() string
	// ReadState returns the current state. Implementations never block.
	ReadState() Value
	// OnUpstreamUpdate registers a callback fired whenever the state may
	// have changed. The returned function unregisters it.
	OnUpstreamUpdate(func()) (unsubscribe func())
}

// Source provides snapshots to entities and fan-out of refresh
// notifications.
type Source interface {
	Snapshot() types.MeterSnapshot
	Subscribe(func()) (unsubscribe func())
}

// snapshotEntity is the shared base for entities that mirror a snapshot
// field.
type snapshotEntity struct {
	id     string
	source Source
}

func (e *snapshotEntity) ID() string { return e.id }

func (e *snapshotEntity) OnUpstreamUpdate(fn func()) func() {
	return e.source.Subscribe(fn)
}

// roundDisplay rounds to 2 decimals. Only display values are rounded;
// running sums are never.
func roundDisplay(v float64) float64 {
	return math.Round(v*100) / 100
}

// EnergySummary shows the latest cumulative sum of one statistic series.
type EnergySummary struct {
	snapshotEntity
	statisticID string
	unit        string
}

// NewEnergySummary builds a summary entity for the series.
func NewEnergySummary(source Source, statisticID, unit string) *EnergySummary {
	return &EnergySummary{
		snapshotEntity: snapshotEntity{id: statisticID, source: source},
		statisticID:    statisticID,
		unit:           unit,
	}
}

func (e *EnergySummary) ReadState() Value {
	snap := e.source.Snapshot()
	sum, ok := snap.Summaries[e.statisticID]
	if !ok {
		return Value{Available: false}
	}
	return Value{
		State:     strconv.FormatFloat(roundDisplay(sum), 'f', -1, 64),
		Available: true,
		Attrs: map[string]string{
			"unit_of_measurement": e.unit,
			"last_refresh":        snap.LastRefresh.Format(time.RFC3339),
		},
	}
}

// TempoDay shows today's tempo color.
type TempoDay struct {
	snapshotEntity
}

func NewTempoDay(source Source, pdl string) *TempoDay {
	return &TempoDay{snapshotEntity{id: pdl + "_tempo_day", source: source}}
}

func (e *TempoDay) ReadState() Value {
	snap := e.source.Snapshot()
	if !snap.TempoDay.Valid() {
		return Value{Available: false}
	}
	return Value{State: string(snap.TempoDay), Available: true}
}

// Ecowatt shows the grid strain signal for tomorrow.
type Ecowatt struct {
	snapshotEntity
}

func NewEcowatt(source Source, pdl string) *Ecowatt {
	return &Ecowatt{snapshotEntity{id: pdl + "_ecowatt", source: source}}
}

func (e *Ecowatt) ReadState() Value {
	snap := e.source.Snapshot()
	if snap.Ecowatt == nil {
		return Value{Available: false}
	}
	return Value{
		State:     fmt.Sprintf("%d", snap.Ecowatt.Value),
		Available: true,
		Attrs:     map[string]string{"message": snap.Ecowatt.Message},
	}
}

// Consent is a diagnostic binary entity reporting whether the API consent
// is still usable.
type Consent struct {
	snapshotEntity
}

func NewConsent(source Source, pdl string) *Consent {
	return &Consent{snapshotEntity{id: pdl + "_consent", source: source}}
}

func (e *Consent) ReadState() Value {
	snap := e.source.Snapshot()
	if snap.LastAccess.IsZero() {
		return Value{Available: false}
	}
	ok := snap.Access.Valid && !snap.Access.Banned
	if exp := snap.Access.ConsentExpiration; !exp.IsZero() && exp.Before(time.Now()) {
		ok = false
	}
	return Value{
		State:     strconv.FormatBool(ok),
		Available: true,
		Attrs: map[string]string{
			"call_count":         strconv.Itoa(snap.Access.CallCount),
			"quota_reached":      strconv.FormatBool(snap.Access.QuotaReached),
			"consent_expiration": snap.Access.ConsentExpiration.Format(time.RFC3339),
		},
	}
}
