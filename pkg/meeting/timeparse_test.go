package meeting

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339 utc", in: "2024-04-03T09:00:00Z", want: time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)},
		{name: "rfc3339 offset", in: "2024-04-03T11:00:00+02:00", want: time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)},
		{name: "local minutes", in: "2024-04-03T09:30", want: time.Date(2024, 4, 3, 9, 30, 0, 0, time.UTC)},
		{name: "local seconds", in: "2024-04-03T09:30:15", want: time.Date(2024, 4, 3, 9, 30, 15, 0, time.UTC)},
		{name: "padded", in: "  2024-04-03T09:30 ", want: time.Date(2024, 4, 3, 9, 30, 0, 0, time.UTC)},
		{name: "date only", in: "2024-04-03", wantErr: true},
		{name: "garbage", in: "tomorrow", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s", got)
		})
	}
}

func TestTime_UnmarshalJSON(t *testing.T) {
	var body struct {
		Start *Time `json:"start_time"`
		End   *Time `json:"end_time"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"start_time":"2024-04-03T09:00"}`), &body))
	require.NotNil(t, body.Start)
	assert.Equal(t, time.UTC, body.Start.Location())
	assert.True(t, body.Start.Ptr().Equal(time.Date(2024, 4, 3, 9, 0, 0, 0, time.UTC)))
	assert.Nil(t, body.End.Ptr())

	assert.Error(t, json.Unmarshal([]byte(`{"start_time":"soon"}`), &body))
	assert.Error(t, json.Unmarshal([]byte(`{"start_time":42}`), &body))
}
