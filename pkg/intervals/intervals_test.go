package intervals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wattsync/wattsync/pkg/types"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 14, hour, minute, 0, 0, time.UTC)
}

func window(startH, startM, endH, endM int) types.IntervalRule {
	return types.IntervalRule{
		Start: types.ClockTime{Hour: startH, Minute: startM},
		End:   types.ClockTime{Hour: endH, Minute: endM},
	}
}

func TestClassifySimpleWindow(t *testing.T) {
	m := FromWindows([]types.IntervalRule{window(2, 0, 6, 0)})

	assert.Equal(t, types.LabelOffpeak, m.Classify(at(2, 0)), "start bound is inclusive")
	assert.Equal(t, types.LabelOffpeak, m.Classify(at(4, 30)))
	assert.Equal(t, types.LabelOffpeak, m.Classify(at(6, 0)), "end bound is inclusive")
	assert.Equal(t, types.LabelStandard, m.Classify(at(6, 1)))
	assert.Equal(t, types.LabelStandard, m.Classify(at(12, 0)))
	assert.Equal(t, types.LabelStandard, m.Classify(at(1, 59)))
}

func TestClassifyWrapAround(t *testing.T) {
	// 22:00-06:00 wraps past midnight
	m := FromWindows([]types.IntervalRule{window(22, 0, 6, 0)})

	for _, tc := range []struct {
		ts   time.Time
		want string
	}{
		{at(22, 0), types.LabelOffpeak},
		{at(23, 59), types.LabelOffpeak},
		{at(0, 0), types.LabelOffpeak},
		{at(5, 59), types.LabelOffpeak},
		{at(6, 0), types.LabelOffpeak},
		{at(6, 1), types.LabelStandard},
		{at(12, 0), types.LabelStandard},
		{at(21, 59), types.LabelStandard},
	} {
		assert.Equal(t, tc.want, m.Classify(tc.ts), "at %s", tc.ts.Format("15:04"))
	}
}

func TestClassifyUntilMidnight(t *testing.T) {
	// 22:00-00:00 means until midnight, not a full wrap
	m := FromWindows([]types.IntervalRule{window(22, 0, 0, 0)})

	assert.Equal(t, types.LabelOffpeak, m.Classify(at(22, 30)))
	assert.Equal(t, types.LabelOffpeak, m.Classify(at(23, 59)))
	assert.Equal(t, types.LabelOffpeak, m.Classify(at(0, 0)), "midnight end is inclusive")
	assert.Equal(t, types.LabelStandard, m.Classify(at(0, 1)))
	assert.Equal(t, types.LabelStandard, m.Classify(at(21, 0)))
}

func TestClassifyFirstMatchWins(t *testing.T) {
	m := New(
		Rule{Label: "white", Window: window(6, 0, 22, 0)},
		Rule{Label: "red", Window: window(8, 0, 10, 0)},
	)

	// overlapping rules must not crash, first definition is authoritative
	assert.Equal(t, "white", m.Classify(at(9, 0)))

	flipped := New(
		Rule{Label: "red", Window: window(8, 0, 10, 0)},
		Rule{Label: "white", Window: window(6, 0, 22, 0)},
	)
	assert.Equal(t, "red", flipped.Classify(at(9, 0)))
}

func TestLabels(t *testing.T) {
	empty := New()
	assert.True(t, empty.Empty())
	assert.Equal(t, []string{types.LabelStandard}, empty.Labels())

	m := New(
		Rule{Window: window(0, 0, 6, 0)},
		Rule{Window: window(22, 0, 0, 0)},
	)
	assert.False(t, m.Empty())
	assert.Equal(t, []string{types.LabelStandard, types.LabelOffpeak}, m.Labels())
}

func TestCurrentlyIn(t *testing.T) {
	m := FromWindows([]types.IntervalRule{window(22, 0, 6, 0)})

	assert.True(t, m.CurrentlyIn(types.LabelOffpeak, at(23, 0)))
	assert.False(t, m.CurrentlyIn(types.LabelOffpeak, at(12, 0)))
	assert.True(t, m.CurrentlyIn(types.LabelStandard, at(12, 0)))
}

func TestParseContractHours(t *testing.T) {
	windows, err := ParseContractHours("HC (1H30-8H00;12H30-14H00)")
	require.NoError(t, err)
	require.Len(t, windows, 2)

	assert.Equal(t, types.ClockTime{Hour: 1, Minute: 30}, windows[0].Start)
	assert.Equal(t, types.ClockTime{Hour: 8, Minute: 0}, windows[0].End)
	assert.Equal(t, types.ClockTime{Hour: 12, Minute: 30}, windows[1].Start)
	assert.Equal(t, types.ClockTime{Hour: 14, Minute: 0}, windows[1].End)

	// empty contract string is fine, just no windows
	windows, err = ParseContractHours("")
	require.NoError(t, err)
	assert.Empty(t, windows)

	// window-looking garbage is an error
	_, err = ParseContractHours("99H99-31H77")
	assert.Error(t, err)
}
