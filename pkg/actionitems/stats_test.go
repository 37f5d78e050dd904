package actionitems

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

func TestComputeStats(t *testing.T) {
	today := time.Date(2026, 4, 3, 15, 30, 0, 0, time.UTC)
	due := meeting.StringPtr

	tests := []struct {
		name  string
		items []meeting.ActionItem
		want  Stats
	}{
		{
			name:  "empty list is not all done",
			items: nil,
			want:  Stats{},
		},
		{
			name: "open past due is overdue",
			items: []meeting.ActionItem{
				{Task: "a", DueDate: due("2026-04-02"), Status: meeting.ItemOpen},
			},
			want: Stats{Total: 1, Open: 1, Overdue: 1},
		},
		{
			name: "due today is not overdue",
			items: []meeting.ActionItem{
				{Task: "a", DueDate: due("2026-04-03"), Status: meeting.ItemOpen},
			},
			want: Stats{Total: 1, Open: 1},
		},
		{
			name: "done past due is not overdue",
			items: []meeting.ActionItem{
				{Task: "a", DueDate: due("2020-01-01"), Status: meeting.ItemDone},
			},
			want: Stats{Total: 1, AllDone: true},
		},
		{
			name: "unparseable due date is not overdue",
			items: []meeting.ActionItem{
				{Task: "a", DueDate: due("next friday"), Status: meeting.ItemOpen},
			},
			want: Stats{Total: 1, Open: 1},
		},
		{
			name: "rfc3339 due date",
			items: []meeting.ActionItem{
				{Task: "a", DueDate: due("2026-03-30T09:00:00Z"), Status: meeting.ItemOpen},
			},
			want: Stats{Total: 1, Open: 1, Overdue: 1},
		},
		{
			name: "mixed",
			items: []meeting.ActionItem{
				{Task: "a", Status: meeting.ItemDone},
				{Task: "b", Status: meeting.ItemOpen},
				{Task: "c", DueDate: due("2026-01-01"), Status: meeting.ItemOpen},
				{Task: "d", Status: ""},
			},
			want: Stats{Total: 4, Open: 3, Overdue: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStats(tt.items, today)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got.Overdue, got.Open)
			assert.LessOrEqual(t, got.Open, got.Total)
		})
	}
}
