package retrieval

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
)

type rawAnswer struct {
	Answer     any   `json:"answer"`
	References []any `json:"references"`
}

type rawCluster struct {
	Name        any   `json:"name"`
	Description any   `json:"description"`
	MeetingIDs  []any `json:"meeting_ids"`
}

type rawClusters struct {
	Clusters []json.RawMessage `json:"clusters"`
}

// decodeObject unmarshals the JSON object embedded in model output into v,
// repairing it once if needed.
func decodeObject(text string, v any) bool {
	raw := actionitems.ExtractSpan(text, '{', '}')
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return true
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(repaired), v) == nil
}

// parseAnswer returns the answer text and the referenced ids in model order.
// ok is false when the output holds no usable JSON object.
func parseAnswer(text string) (answer string, ids []string, ok bool) {
	var r rawAnswer
	if !decodeObject(text, &r) {
		return "", nil, false
	}
	answer = strings.TrimSpace(scalar(r.Answer))
	for _, ref := range r.References {
		switch v := ref.(type) {
		case map[string]any:
			ids = append(ids, scalar(v["meeting_id"]))
		default:
			ids = append(ids, scalar(v))
		}
	}
	return answer, ids, true
}

type clusterDraft struct {
	name        string
	description string
	ids         []string
}

// parseClusters returns the proposed clusters, skipping entries that are not
// objects. ok is false when the output holds no usable JSON object.
func parseClusters(text string) ([]clusterDraft, bool) {
	var r rawClusters
	if !decodeObject(text, &r) {
		return nil, false
	}
	drafts := make([]clusterDraft, 0, len(r.Clusters))
	for _, entry := range r.Clusters {
		var c rawCluster
		if err := json.Unmarshal(entry, &c); err != nil {
			continue
		}
		d := clusterDraft{
			name:        strings.TrimSpace(scalar(c.Name)),
			description: strings.TrimSpace(scalar(c.Description)),
		}
		for _, id := range c.MeetingIDs {
			d.ids = append(d.ids, scalar(id))
		}
		drafts = append(drafts, d)
	}
	return drafts, true
}

// scalar renders strings and numbers; anything else is "".
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
