// Package intervals classifies timestamps into tariff labels using named
// daily time-of-day windows.
package intervals

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wattsync/wattsync/pkg/types"
)

// Rule binds a daily window to a tariff label.
type Rule struct {
	Label  string
	Window types.IntervalRule
}

// Model partitions each day into labeled zones. Time covered by no rule
// belongs to the standard label. Rules are expected non-overlapping; when
// they do overlap the first matching rule in definition order wins.
type Model struct {
	rules []Rule
}

// New builds a Model from rules in definition order. Rules without a label
// default to the offpeak label, matching how subscriptions usually declare
// their discounted windows.
func New(rules ...Rule) *Model {
	m := &Model{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		if r.Label == "" {
			r.Label = types.LabelOffpeak
		}
		m.rules = append(m.rules, r)
	}
	return m
}

// FromWindows builds a Model where every window carries the offpeak label.
func FromWindows(windows []types.IntervalRule) *Model {
	rules := make([]Rule, 0, len(windows))
	for _, w := range windows {
		rules = append(rules, Rule{Label: types.LabelOffpeak, Window: w})
	}
	return New(rules...)
}

// Empty reports whether the model has no rules, i.e. every timestamp is
// standard.
func (m *Model) Empty() bool {
	return len(m.rules) == 0
}

// Classify returns the label of the first rule whose window contains the
// time of day of t, or the standard label.
func (m *Model) Classify(t time.Time) string {
	for _, r := range m.rules {
		if r.Window.Contains(t) {
			return r.Label
		}
	}
	return types.LabelStandard
}

// CurrentlyIn reports whether now falls under the given label. Used by the
// live offpeak indicator, independently of the collection cycle.
func (m *Model) CurrentlyIn(label string, now time.Time) bool {
	return m.Classify(now) == label
}

// Labels returns the standard label followed by the distinct rule labels in
// definition order. These are the buckets a reconciliation pass can emit.
func (m *Model) Labels() []string {
	labels := []string{types.LabelStandard}
	seen := map[string]bool{types.LabelStandard: true}
	for _, r := range m.rules {
		if !seen[r.Label] {
			seen[r.Label] = true
			labels = append(labels, r.Label)
		}
	}
	return labels
}

// contractHoursRE matches windows in the distributor's contract format,
// e.g. "HC (1H30-8H00;12H30-14H00)".
var contractHoursRE = regexp.MustCompile(`(\d{1,2})H(\d{2})-(\d{1,2})H(\d{2})`)

// ParseContractHours extracts offpeak windows from the contract's
// offpeak_hours string. Unparseable segments are skipped; an error is only
// returned when the string contains window-looking text but nothing parses.
func ParseContractHours(s string) ([]types.IntervalRule, error) {
	matches := contractHoursRE.FindAllStringSubmatch(s, -1)
	var windows []types.IntervalRule
	for _, m := range matches {
		sh, _ := strconv.Atoi(m[1])
		sm, _ := strconv.Atoi(m[2])
		eh, _ := strconv.Atoi(m[3])
		em, _ := strconv.Atoi(m[4])
		if sh > 23 || eh > 23 || sm > 59 || em > 59 {
			continue
		}
		windows = append(windows, types.IntervalRule{
			Start: types.ClockTime{Hour: sh, Minute: sm},
			End:   types.ClockTime{Hour: eh, Minute: em},
		})
	}
	if len(windows) == 0 && strings.Contains(s, "H") && strings.Contains(s, "-") {
		return nil, fmt.Errorf("no offpeak windows parsed from %q", s)
	}
	return windows, nil
}
