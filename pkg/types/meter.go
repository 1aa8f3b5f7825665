package types

import "time"

// AccessInfo reflects the state of the API consent and quota for a meter.
type AccessInfo struct {
	Valid             bool      `json:"valid"`
	Banned            bool      `json:"banned"`
	QuotaLimit        int       `json:"quotaLimit"`
	QuotaReached      bool      `json:"quotaReached"`
	CallCount         int       `json:"callCount"`
	LastCall          time.Time `json:"lastCall"`
	ConsentExpiration time.Time `json:"consentExpiration"`
}

// ContractInfo is the subset of the meter contract surfaced on entities.
type ContractInfo struct {
	SubscribedPower      string `json:"subscribedPower"`
	OffpeakHours         string `json:"offpeakHours"`
	LastActivationDate   string `json:"lastActivationDate"`
	LastTariffChangeDate string `json:"lastTariffChangeDate"`
}

// MeterSnapshot is the immutable view of one meter after a refresh cycle.
// The coordinator replaces it atomically at the end of each successful
// cycle; consumers only ever read it.
type MeterSnapshot struct {
	PDL string `json:"pdl"`

	// Summaries maps statistic ID to its latest cumulative sum, rounded for
	// display.
	Summaries map[string]float64 `json:"summaries"`

	TempoDay   TempoColor     `json:"tempoDay,omitempty"`
	Ecowatt    *EcowattSignal `json:"ecowatt,omitempty"`
	Access     AccessInfo     `json:"access"`
	Contract   ContractInfo   `json:"contract"`
	LastAccess time.Time      `json:"lastAccess"`

	// LastRefresh is when the cycle that produced this snapshot completed.
	LastRefresh time.Time `json:"lastRefresh"`

	// LastStatistic is the start of the most recent statistic point written.
	LastStatistic time.Time `json:"lastStatistic"`
}
