package actionitems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/otherjamesbrown/meetnotes/pkg/errors"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
)

func TestParseExtraction(t *testing.T) {
	text := "Here are the items:\n```json\n" +
		`[{"task": "Send the deck", "owner": "Alice", "due_date": null, "status": "open"},` +
		` {"task": "", "owner": "Bob"},` +
		` {"description": "Book the room", "assignee": "Carol", "due": "2026-04-10"},` +
		` "not an object"]` +
		"\n```"

	items, err := ParseExtraction(text)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Send the deck", items[0].Task)
	assert.Equal(t, "Alice", *items[0].Owner)
	assert.Nil(t, items[0].DueDate)
	assert.Equal(t, meeting.ItemOpen, items[0].Status)

	assert.Equal(t, "Book the room", items[1].Task)
	assert.Equal(t, "Carol", *items[1].Owner)
	assert.Equal(t, "2026-04-10", *items[1].DueDate)
	assert.Equal(t, meeting.ItemOpen, items[1].Status)
}

func TestParseExtraction_Empty(t *testing.T) {
	items, err := ParseExtraction("No action items. []")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestParseExtraction_RepairsTrailingComma(t *testing.T) {
	items, err := ParseExtraction(`[{"task": "Ship it", "owner": "null",},]`)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Ship it", items[0].Task)
	assert.Nil(t, items[0].Owner)
}

func TestParseExtraction_NoArray(t *testing.T) {
	_, err := ParseExtraction("I could not find any tasks.")
	require.Error(t, err)
	assert.True(t, mnerrors.IsAdapterError(err))
	assert.Equal(t, "parse_error", mnerrors.ReasonOf(err))
}

func TestExtractSpan(t *testing.T) {
	assert.Equal(t, `{"a":{"b":1}}`, ExtractSpan(`noise {"a":{"b":1}} tail`, '{', '}'))
	assert.Equal(t, "", ExtractSpan("] backwards [", '[', ']'))
	assert.Equal(t, "", ExtractSpan("nothing", '[', ']'))
}
