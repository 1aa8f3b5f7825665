package types

import (
	"fmt"
	"time"
)

// StatisticPrefix is the namespace every statistic series written by this
// service lives under. Requests touching IDs outside this prefix are rejected.
const StatisticPrefix = "wattsync:"

// StatisticID builds the canonical series ID for a meter, direction and
// label.
func StatisticID(pdl string, mode Mode, label string) string {
	return fmt.Sprintf("%s%s_%s_%s", StatisticPrefix, pdl, mode, label)
}

// CostStatisticID builds the ID of the cost series paired with the energy
// series of the same label.
func CostStatisticID(pdl string, mode Mode, label string) string {
	return StatisticID(pdl, mode, label) + "_cost"
}

// Mode identifies the direction of the metered energy.
type Mode string

const (
	ModeConsumption Mode = "consumption"
	ModeProduction  Mode = "production"
)

// Service identifies which metering endpoint readings are collected from.
// Daily services return one reading per day, detail services one per 30
// minutes.
type Service string

const (
	ServiceDailyConsumption Service = "daily_consumption"
	ServiceConsumptionCurve Service = "consumption_load_curve"
	ServiceDailyProduction  Service = "daily_production"
	ServiceProductionCurve  Service = "production_load_curve"
)

// Detail reports whether the service returns sub-daily readings.
func (s Service) Detail() bool {
	return s == ServiceConsumptionCurve || s == ServiceProductionCurve
}

// Mode returns the energy direction the service measures.
func (s Service) Mode() Mode {
	if s == ServiceDailyProduction || s == ServiceProductionCurve {
		return ModeProduction
	}
	return ModeConsumption
}

// Validate checks the service is one of the supported endpoints.
func (s Service) Validate() error {
	switch s {
	case ServiceDailyConsumption, ServiceConsumptionCurve, ServiceDailyProduction, ServiceProductionCurve:
		return nil
	}
	return fmt.Errorf("unknown service: %s", s)
}

// Labels readings are bucketed under. Tempo colors double as labels when the
// subscription uses day-color pricing intervals.
const (
	LabelStandard = "standard"
	LabelOffpeak  = "offpeak"
)

// Reading is a single raw interval reading returned by the metering API.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	ValueKWH  float64   `json:"valueKWH"`
}

// StatPoint is a single point of a persisted statistic series.
type StatPoint struct {
	Start time.Time `json:"start"`
	State float64   `json:"state"`
	Sum   float64   `json:"sum"`
}

// SeriesMeta describes a statistic series to the store.
type SeriesMeta struct {
	StatisticID string `json:"statisticID"`
	Name        string `json:"name"`
	Unit        string `json:"unit"`
}

// Record is the unit of reconciliation output: one reading bucketed under a
// label, carrying the running energy sum and, when a price was available,
// the cost and running cost sum.
type Record struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`

	EnergyValue float64 `json:"energyValue"`
	EnergySum   float64 `json:"energySum"`

	// HasCost is false when the reading had no detectable value or no price
	// could be determined; no cost point is written in that case.
	HasCost   bool    `json:"hasCost"`
	CostValue float64 `json:"costValue"`
	CostSum   float64 `json:"costSum"`
}

// Cursor is the resume point for one label's statistic series pair: the
// persisted running sums and the timestamp of the last written point.
// Cursors live only for the duration of one reconciliation pass.
type Cursor struct {
	Label         string    `json:"label"`
	EnergySum     float64   `json:"energySum"`
	CostSum       float64   `json:"costSum"`
	LastTimestamp time.Time `json:"lastTimestamp"`
}

// Units used for series metadata.
const (
	UnitKWH  = "kWh"
	UnitEuro = "EUR"
)
