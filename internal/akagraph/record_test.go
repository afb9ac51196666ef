package akagraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordJSONRoundTrip(t *testing.T) {
	rec := Record{URL: "http://x/1", Fields: map[string][]string{
		"email": {"a@x.com", "b@x.com"},
		"name":  {"foo"},
	}}
	buf, err := json.Marshal(rec)
	require.NoError(t, err)
	var parsed Record
	require.NoError(t, json.Unmarshal(buf, &parsed))
	require.Equal(t, rec, parsed)
}

func TestRecordUnmarshalPromotesScalars(t *testing.T) {
	var rec Record
	err := json.Unmarshal([]byte(`{"url": "u", "name": "solo"}`), &rec)
	require.NoError(t, err)
	require.Equal(t, []string{"solo"}, rec.Fields["name"])
}

func TestRecordUnmarshalRequiresURL(t *testing.T) {
	var rec Record
	require.Error(t, json.Unmarshal([]byte(`{"name": ["x"]}`), &rec))
	require.Error(t, json.Unmarshal([]byte(`{"url": "", "name": ["x"]}`), &rec))
}

func TestRecordUnmarshalRejectsNonStrings(t *testing.T) {
	var rec Record
	require.Error(t, json.Unmarshal([]byte(`{"url": "u", "age": [42]}`), &rec))
	require.Error(t, json.Unmarshal([]byte(`{"url": "u", "age": 42}`), &rec))
}

func TestRecordEmpty(t *testing.T) {
	require.True(t, Record{URL: "u"}.Empty())
	require.False(t, Record{URL: "u", Fields: map[string][]string{"a": {"b"}}}.Empty())
}

func TestNewRecordFromFlat(t *testing.T) {
	rec, err := NewRecordFromFlat(map[string]interface{}{
		"url":   "u",
		"email": []interface{}{"a@x.com"},
	})
	require.NoError(t, err)
	require.Equal(t, "u", rec.URL)
	require.Equal(t, []string{"a@x.com"}, rec.Fields["email"])
}

func TestRecordFieldNamesSorted(t *testing.T) {
	rec := Record{URL: "u", Fields: map[string][]string{
		"zeta": {"1"}, "alpha": {"2"}, "mid": {"3"},
	}}
	require.Equal(t, []string{"alpha", "mid", "zeta"}, rec.FieldNames())
}
