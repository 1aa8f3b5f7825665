package types

import "fmt"

// Default prices in EUR/kWh, used as last-resort fallbacks when a pricing
// entry is missing. A diagnostic is logged whenever one of these kicks in.
const (
	DefaultConsumptionPrice = 0.1740
	DefaultOffpeakPrice     = 0.1470
	DefaultPeakPrice        = 0.1841
	DefaultProductionPrice  = 0.06
)

// TempoColor is the day color assigned by the utility under a tempo
// subscription.
type TempoColor string

const (
	TempoBlue  TempoColor = "blue"
	TempoWhite TempoColor = "white"
	TempoRed   TempoColor = "red"
)

// Valid reports whether the color is one of the three tempo colors.
func (c TempoColor) Valid() bool {
	return c == TempoBlue || c == TempoWhite || c == TempoRed
}

// TempoPricing holds one price per tempo day color.
type TempoPricing struct {
	Blue  float64 `json:"blue" yaml:"blue"`
	White float64 `json:"white" yaml:"white"`
	Red   float64 `json:"red" yaml:"red"`
}

// For returns the price for the given color.
func (p TempoPricing) For(c TempoColor) (float64, error) {
	switch c {
	case TempoBlue:
		return p.Blue, nil
	case TempoWhite:
		return p.White, nil
	case TempoRed:
		return p.Red, nil
	}
	return 0, fmt.Errorf("unknown tempo color: %s", c)
}

// Pricing is the configured price for one label. Exactly one of Price or
// Tempo is populated, depending on whether the subscription uses day-color
// tariffs.
type Pricing struct {
	Price float64       `json:"price,omitempty" yaml:"price,omitempty"`
	Tempo *TempoPricing `json:"tempo,omitempty" yaml:"tempo,omitempty"`
}

// EcowattSignal is the grid strain signal published by RTE for one day.
// Values range from 1 (normal) to 3 (critical).
type EcowattSignal struct {
	Value   int    `json:"value"`
	Message string `json:"message"`
}
