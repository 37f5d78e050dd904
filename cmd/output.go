package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/meetnotes/config"
	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// outputFormat resolves the format from a command flag, falling back to the
// configured default.
func outputFormat(flag string) (config.OutputFormat, error) {
	if flag != "" {
		f := config.OutputFormat(flag)
		if !f.IsValid() {
			return "", fmt.Errorf("invalid output format %q: must be text, json, or yaml", flag)
		}
		return f, nil
	}
	if currentConfig != nil && currentConfig.OutputFormat.IsValid() {
		return currentConfig.OutputFormat, nil
	}
	return config.DefaultOutputFormat, nil
}

// writeOutput encodes v as JSON or YAML, or calls text for the text format.
func writeOutput(w io.Writer, format config.OutputFormat, v interface{}, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

// writeMeetingTable prints one line per meeting.
func writeMeetingTable(w io.Writer, meetings []*meeting.Meeting) error {
	if len(meetings) == 0 {
		fmt.Fprintln(w, "No meetings found.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-12s  %-3s  %-16s  %s\n", "ID", "STATUS", "FAV", "CREATED", "TITLE")
	for _, m := range meetings {
		fav := ""
		if m.IsFavorite {
			fav = "*"
		}
		fmt.Fprintf(w, "%-36s  %-12s  %-3s  %-16s  %s\n",
			m.ID, m.Status, fav, m.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(m.Title, 60))
	}
	return nil
}

// writeMeetingDetail prints one meeting in full.
func writeMeetingDetail(w io.Writer, m *meeting.Meeting, today time.Time) error {
	fmt.Fprintf(w, "Meeting:  %s\n", m.Title)
	fmt.Fprintf(w, "  ID:       %s\n", m.ID)
	fmt.Fprintf(w, "  Status:   %s\n", m.Status)
	fmt.Fprintf(w, "  Created:  %s\n", m.CreatedAt.Local().Format(time.RFC3339))
	if m.StartTime != nil {
		fmt.Fprintf(w, "  Start:    %s\n", m.StartTime.Local().Format(time.RFC3339))
	}
	if m.EndTime != nil {
		fmt.Fprintf(w, "  End:      %s\n", m.EndTime.Local().Format(time.RFC3339))
	}
	if m.CalendarEventID != nil {
		fmt.Fprintf(w, "  Calendar: %s\n", *m.CalendarEventID)
	}
	if m.FolderID != nil {
		fmt.Fprintf(w, "  Folder:   %s\n", *m.FolderID)
	}
	if m.IsFavorite {
		fmt.Fprintln(w, "  Favorite: yes")
	}

	for _, stage := range []meeting.Stage{meeting.StageTranscription, meeting.StageSummary, meeting.StageActionItems} {
		o, ok := m.Outcomes[stage]
		if !ok {
			continue
		}
		line := string(o.Outcome)
		if o.Reason != "" {
			line += " (" + o.Reason + ")"
		}
		fmt.Fprintf(w, "  %-13s %s\n", string(stage)+":", line)
	}

	fmt.Fprintln(w)
	if s := m.SummaryText(); s != "" {
		fmt.Fprintln(w, "Summary:")
		fmt.Fprintln(w, indent(s, "  "))
		fmt.Fprintln(w)
	}
	writeActionItems(w, m.ActionItems, today)
	return nil
}

func writeActionItems(w io.Writer, items []meeting.ActionItem, today time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No action items.")
		return
	}
	fmt.Fprintln(w, "Action items:")
	for i, item := range items {
		box := "[ ]"
		if item.Status == meeting.ItemDone {
			box = "[x]"
		}
		line := fmt.Sprintf("  %2d. %s %s", i, box, item.Task)
		if item.Owner != nil {
			line += " @" + *item.Owner
		}
		if item.DueDate != nil {
			line += " due " + *item.DueDate
			if actionitems.ComputeStats([]meeting.ActionItem{item}, today).Overdue > 0 {
				line += " (overdue)"
			}
		}
		fmt.Fprintln(w, line)
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n"+prefix)
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
