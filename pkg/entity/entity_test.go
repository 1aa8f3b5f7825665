package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattsync/wattsync/pkg/intervals"
	"github.com/wattsync/wattsync/pkg/types"
)

type fakeSource struct {
	snap types.MeterSnapshot
	subs []func()
}

func (s *fakeSource) Snapshot() types.MeterSnapshot { return s.snap }

func (s *fakeSource) Subscribe(fn func()) func() {
	s.subs = append(s.subs, fn)
	return func() {}
}

func TestEnergySummary(t *testing.T) {
	src := &fakeSource{snap: types.MeterSnapshot{
		Summaries: map[string]float64{
			"wattsync:12345678901234_consumption_standard": 1234.56789,
		},
		LastRefresh: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}}

	e := NewEnergySummary(src, "wattsync:12345678901234_consumption_standard", types.UnitKWH)
	v := e.ReadState()
	require.True(t, v.Available)
	// rounded at the display boundary only
	assert.Equal(t, "1234.57", v.State)
	assert.Equal(t, types.UnitKWH, v.Attrs["unit_of_measurement"])

	missing := NewEnergySummary(src, "wattsync:12345678901234_production_standard", types.UnitKWH)
	assert.False(t, missing.ReadState().Available)
}

func TestTempoDay(t *testing.T) {
	src := &fakeSource{snap: types.MeterSnapshot{TempoDay: types.TempoRed}}
	e := NewTempoDay(src, "12345678901234")
	v := e.ReadState()
	require.True(t, v.Available)
	assert.Equal(t, "red", v.State)

	src.snap.TempoDay = ""
	assert.False(t, e.ReadState().Available)
}

func TestEcowatt(t *testing.T) {
	src := &fakeSource{snap: types.MeterSnapshot{
		Ecowatt: &types.EcowattSignal{Value: 2, Message: "strained"},
	}}
	e := NewEcowatt(src, "12345678901234")
	v := e.ReadState()
	require.True(t, v.Available)
	assert.Equal(t, "2", v.State)
	assert.Equal(t, "strained", v.Attrs["message"])

	src.snap.Ecowatt = nil
	assert.False(t, e.ReadState().Available)
}

func TestConsent(t *testing.T) {
	src := &fakeSource{snap: types.MeterSnapshot{
		LastAccess: time.Now(),
		Access: types.AccessInfo{
			Valid:             true,
			CallCount:         42,
			ConsentExpiration: time.Now().Add(24 * time.Hour),
		},
	}}
	e := NewConsent(src, "12345678901234")
	v := e.ReadState()
	require.True(t, v.Available)
	assert.Equal(t, "true", v.State)
	assert.Equal(t, "42", v.Attrs["call_count"])

	src.snap.Access.ConsentExpiration = time.Now().Add(-time.Hour)
	assert.Equal(t, "false", e.ReadState().State)

	src.snap.LastAccess = time.Time{}
	assert.False(t, e.ReadState().Available)
}

func TestOffpeak(t *testing.T) {
	model := intervals.FromWindows([]types.IntervalRule{{
		Start: types.ClockTime{Hour: 1, Minute: 30},
		End:   types.ClockTime{Hour: 8},
	}})

	e := NewOffpeak("12345678901234", model, time.Hour)
	defer e.Close()

	var fired int
	unsub := e.OnUpstreamUpdate(func() { fired++ })

	e.now = func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.Local) }
	e.recompute()
	assert.Equal(t, "true", e.ReadState().State)

	e.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local) }
	e.recompute()
	assert.Equal(t, "false", e.ReadState().State)
	assert.GreaterOrEqual(t, fired, 1)

	// no callback when the value does not flip
	fired = 0
	e.recompute()
	assert.Equal(t, 0, fired)

	unsub()
	e.now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, time.Local) }
	e.recompute()
	assert.Equal(t, 0, fired)
}

func TestOffpeakCloseTwice(t *testing.T) {
	e := NewOffpeak("12345678901234", intervals.New(), time.Hour)
	e.Close()
	e.Close()
}
