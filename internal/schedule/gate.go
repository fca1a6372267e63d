package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action is what a timer trigger should do.
type Action string

const (
	ActionRun    Action = "run"
	ActionSkip   Action = "skip"
	ActionPaused Action = "paused"
)

// Decision is the gate's verdict for one instant.
type Decision struct {
	Action    Action    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	LocalTime time.Time `json:"local_time"`
}

// Location resolves the settings timezone, falling back to UTC when the
// name is unknown.
func (s Settings) Location() *time.Location {
	if loc, err := time.LoadLocation(s.Timezone); err == nil && s.Timezone != "" {
		return loc
	}
	return time.UTC
}

// Evaluate decides whether a timer firing at now should run the pipeline.
// Only the hour of each run time is compared.
func Evaluate(s Settings, now time.Time) Decision {
	local := now.In(s.Location())
	if !s.Active {
		return Decision{Action: ActionPaused, Reason: "scheduler is paused", LocalTime: local}
	}
	for _, rt := range s.RunTimes {
		h, _, ok := parseRunTime(rt)
		if ok && h == local.Hour() {
			return Decision{Action: ActionRun, LocalTime: local}
		}
	}
	return Decision{
		Action:    ActionSkip,
		Reason:    fmt.Sprintf("hour %02d is not a scheduled hour (%s)", local.Hour(), strings.Join(s.RunTimes, ", ")),
		LocalTime: local,
	}
}

// NextRuns returns up to n upcoming run instants after now, in the
// settings timezone. Paused settings have none.
func NextRuns(s Settings, now time.Time, n int) []time.Time {
	if !s.Active || n <= 0 {
		return nil
	}
	loc := s.Location()
	local := now.In(loc)

	var out []time.Time
	for day := 0; day < 2 && len(out) < n*2; day++ {
		d := local.AddDate(0, 0, day)
		for _, rt := range s.RunTimes {
			h, m, ok := parseRunTime(rt)
			if !ok {
				continue
			}
			t := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
			if t.After(local) {
				out = append(out, t)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func parseRunTime(rt string) (hour, minute int, ok bool) {
	if !runTimeRe.MatchString(rt) {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", rt)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
