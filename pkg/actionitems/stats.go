package actionitems

import (
	"time"

	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// Stats summarizes an action item list.
type Stats struct {
	Total   int  `json:"total"`
	Open    int  `json:"open"`
	Overdue int  `json:"overdue"`
	AllDone bool `json:"all_done"`
}

// ComputeStats counts items. An item is overdue when it is open and its due
// date parses and falls strictly before today's calendar date. Unparseable due
// dates never count as overdue.
func ComputeStats(items []meeting.ActionItem, today time.Time) Stats {
	var st Stats
	todayDate := civilDate(today)

	for _, it := range items {
		st.Total++
		if it.Status.Normalize() != meeting.ItemOpen {
			continue
		}
		st.Open++
		if it.DueDate == nil {
			continue
		}
		if due, ok := parseDueDate(*it.DueDate, today.Location()); ok && due.Before(todayDate) {
			st.Overdue++
		}
	}

	st.AllDone = st.Total > 0 && st.Open == 0
	return st
}

var dueDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
}

func parseDueDate(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range dueDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return civilDate(t), true
		}
	}
	return time.Time{}, false
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
