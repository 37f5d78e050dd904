package actionitems

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

// rawItem accepts the field spellings models commonly produce.
type rawItem struct {
	Task        string `json:"task"`
	Description string `json:"description"`
	Owner       any    `json:"owner"`
	Assignee    any    `json:"assignee"`
	DueDate     any    `json:"due_date"`
	Due         any    `json:"due"`
	Status      string `json:"status"`
}

// ParseExtraction turns model output into normalized action items. The JSON
// array is taken from the first '[' to the last ']'; malformed JSON is
// repaired before giving up. Non-object entries and blank tasks are skipped.
func ParseExtraction(text string) ([]meeting.ActionItem, error) {
	raw := ExtractSpan(text, '[', ']')
	if raw == "" {
		return nil, mnerrors.NewStageError(mnerrors.CodeParseError, "action_items", "no JSON array in model output", nil)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return nil, mnerrors.NewStageError(mnerrors.CodeParseError, "action_items", "unparseable action item JSON", err)
		}
		if err := json.Unmarshal([]byte(repaired), &entries); err != nil {
			return nil, mnerrors.NewStageError(mnerrors.CodeParseError, "action_items", "unparseable action item JSON", err)
		}
	}

	items := make([]meeting.ActionItem, 0, len(entries))
	for _, entry := range entries {
		var r rawItem
		if err := json.Unmarshal(entry, &r); err != nil {
			continue
		}
		task := r.Task
		if strings.TrimSpace(task) == "" {
			task = r.Description
		}
		items = append(items, meeting.ActionItem{
			Task:    task,
			Owner:   optionalString(first(r.Owner, r.Assignee)),
			DueDate: optionalString(first(r.DueDate, r.Due)),
			Status:  meeting.ItemStatus(r.Status),
		})
	}
	return Normalize(items), nil
}

// ExtractSpan returns text from the first open to the last close delimiter,
// inclusive, or "" when no such span exists.
func ExtractSpan(text string, open, close byte) string {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func first(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// optionalString renders scalar JSON values as strings; null and the literal
// strings "null" and "none" become nil.
func optionalString(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case float64, bool:
		s = fmt.Sprint(t)
	default:
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "none", "n/a":
		return nil
	}
	return meeting.NonEmptyPtr(s)
}
