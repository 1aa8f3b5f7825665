package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattsync/wattsync/pkg/types"
)

const sampleConfig = `
meters:
  - pdl: "12345678901234"
    token: "abc123"
    tempo: true
    ecowatt: true
    consumption:
      service: consumption_load_curve
      pricings:
        standard:
          tempo:
            blue: 0.1056
            white: 0.1246
            red: 0.5486
        offpeak:
          price: 0.1470
      intervals:
        - start: "01:30"
          end: "08:00"
  - pdl: "98765432109876"
    token: "def456"
    production:
      service: daily_production
      pricings:
        standard:
          price: 0.06
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Len(t, c.Meters, 2)

	m := c.Meters[0]
	assert.Equal(t, "12345678901234", m.PDL)
	assert.True(t, m.Tempo)
	assert.True(t, m.Ecowatt)
	require.NotNil(t, m.Consumption)
	assert.Equal(t, types.ServiceConsumptionCurve, m.Consumption.Service)

	wantPricings := map[string]types.Pricing{
		"standard": {Tempo: &types.TempoPricing{Blue: 0.1056, White: 0.1246, Red: 0.5486}},
		"offpeak":  {Price: 0.1470},
	}
	if diff := cmp.Diff(wantPricings, m.Consumption.Pricings); diff != "" {
		t.Errorf("pricings mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, m.Consumption.Intervals, 1)
	assert.Equal(t, types.ClockTime{Hour: 1, Minute: 30}, m.Consumption.Intervals[0].Start)
	assert.Equal(t, types.ClockTime{Hour: 8}, m.Consumption.Intervals[0].End)

	require.NotNil(t, c.Meters[1].Production)
	assert.Nil(t, c.Meters[1].Consumption)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Meter {
		return &Meter{
			PDL:   "12345678901234",
			Token: "abc",
			Consumption: &SeriesConfig{
				Service: types.ServiceDailyConsumption,
			},
		}
	}

	assert.NoError(t, valid().Validate())

	m := valid()
	m.PDL = "123"
	assert.ErrorContains(t, m.Validate(), "14 characters")

	m = valid()
	m.Token = ""
	assert.ErrorContains(t, m.Validate(), "token is required")

	m = valid()
	m.Consumption = nil
	assert.ErrorContains(t, m.Validate(), "neither consumption nor production")

	m = valid()
	m.Consumption.Service = types.ServiceDailyProduction
	assert.ErrorContains(t, m.Validate(), "measures production")

	m = valid()
	m.Tempo = true
	assert.ErrorContains(t, m.Validate(), "tempo requires a tempo pricing")

	m = valid()
	m.Consumption.Pricings = map[string]types.Pricing{
		"standard": {Price: -1},
	}
	assert.ErrorContains(t, m.Validate(), "cannot be negative")

	c := &Config{Meters: []Meter{*valid(), *valid()}}
	assert.ErrorContains(t, c.Validate(), "duplicate pdl")

	c = &Config{}
	assert.ErrorContains(t, c.Validate(), "at least one meter")
}
