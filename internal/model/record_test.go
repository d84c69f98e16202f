// ABOUTME: Tests for record key and timestamp extraction
// ABOUTME: Covers numeric/string identifiers and mixed timestamp ordering

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecords_KeepsNumbers(t *testing.T) {
	recs, err := DecodeRecords(json.RawMessage(`[{"contact_id":1,"created_at":10},null]`))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	key, ok := recs[0].Key("contact_id")
	assert.True(t, ok)
	assert.Equal(t, "n:1", key)

	assert.Nil(t, recs[1])
	_, ok = recs[1].Key("contact_id")
	assert.False(t, ok)
}

func TestDecodeRecords_Empty(t *testing.T) {
	recs, err := DecodeRecords(nil)
	require.NoError(t, err)
	assert.Nil(t, recs)

	_, err = DecodeRecords(json.RawMessage(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestRecord_KeyNormalisesNumbers(t *testing.T) {
	a := Record{"id": json.Number("2.0")}
	b := Record{"id": float64(2)}
	c := Record{"id": "2"}

	ka, _ := a.Key("id")
	kb, _ := b.Key("id")
	kc, _ := c.Key("id")
	assert.Equal(t, ka, kb)
	assert.NotEqual(t, ka, kc, "string and numeric ids are distinct")

	_, ok := Record{"id": map[string]any{}}.Key("id")
	assert.False(t, ok)
}

func TestTimestamp_Compare(t *testing.T) {
	ts := func(v any) Timestamp {
		got, ok := Record{"created_at": v}.Timestamp("created_at")
		require.True(t, ok)
		return got
	}

	assert.Equal(t, -1, ts(json.Number("10")).Compare(ts(json.Number("20"))))
	assert.Equal(t, 1, ts("2021-03-02T00:00:00Z").Compare(ts("2021-03-01T00:00:00Z")))
	assert.Equal(t, 0, ts(30).Compare(ts(float64(30))))
	assert.Equal(t, -1, ts(99).Compare(ts("1970")))

	_, ok := Record{}.Timestamp("created_at")
	assert.False(t, ok)
}

func TestRecord_StringAndClone(t *testing.T) {
	r := Record{"name": "Alice", "age": json.Number("30")}
	assert.Equal(t, "Alice", r.String("name"))
	assert.Equal(t, "30", r.String("age"))
	assert.Equal(t, "", r.String("missing"))

	c := r.Clone()
	c["name"] = "Bob"
	assert.Equal(t, "Alice", r.String("name"))
}

func TestTheme_MergeDoesNotMutate(t *testing.T) {
	base := DefaultTheme()
	merged := base.Merge(Theme{"primary_color": "#000"})

	assert.Equal(t, "#386992", base["primary_color"])
	assert.Equal(t, "#000", merged["primary_color"])
	assert.Len(t, merged, len(base))
}

func TestDecodeTheme_StringifiesScalars(t *testing.T) {
	theme, err := DecodeTheme(json.RawMessage(`{"primary_color":"#000","border_radius":4.5,"dark":false,"gone":null,"font":{"size":12}}`))
	require.NoError(t, err)
	assert.Equal(t, Theme{
		"primary_color": "#000",
		"border_radius": "4.5",
		"dark":          "false",
		"font":          `{"size":12}`,
	}, theme)
}

func TestDecodeTheme_NullAndInvalid(t *testing.T) {
	theme, err := DecodeTheme(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, theme)

	_, err = DecodeTheme(json.RawMessage(`["#000"]`))
	assert.Error(t, err)
}
