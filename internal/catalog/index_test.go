package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalsync/internal"
)

func TestIndexKeepsEncounterOrderAndDuplicates(t *testing.T) {
	x := NewIndex()
	assert.True(t, x.AddLocal(internal.LocalRecord{ID: 2, Title: "Beta"}))
	assert.True(t, x.AddLocal(internal.LocalRecord{ID: 1, Title: "Alpha"}))
	assert.True(t, x.AddLocal(internal.LocalRecord{ID: 3, Title: "beta "}))
	assert.False(t, x.AddLocal(internal.LocalRecord{ID: 4, Title: "  "}))
	assert.True(t, x.AddExternal(internal.ExternalRecord{ExternalID: "e1", CanonicalName: "Gamma"}))
	assert.True(t, x.AddExternal(internal.ExternalRecord{ExternalID: "e2", CanonicalName: "ALPHA"}))
	assert.False(t, x.AddExternal(internal.ExternalRecord{ExternalID: "e3", CanonicalName: "<b></b>"}))

	assert.Equal(t, []string{"beta", "alpha", "gamma"}, x.Titles())
	require.Len(t, x.Local["beta"], 2)
	assert.Equal(t, int64(2), x.Local["beta"][0].ID)
	assert.Equal(t, int64(3), x.Local["beta"][1].ID)

	local, external := x.Sizes()
	assert.Equal(t, 2, local)
	assert.Equal(t, 2, external)
}

func TestIndexClassify(t *testing.T) {
	x := NewIndex()
	add := func(title string, locals, externals int) {
		for i := 0; i < locals; i++ {
			x.AddLocal(internal.LocalRecord{ID: int64(len(x.Titles())*10 + i), Title: title})
		}
		for i := 0; i < externals; i++ {
			x.AddExternal(internal.ExternalRecord{ExternalID: title + string(rune('a'+i)), CanonicalName: title})
		}
	}
	add("one", 1, 1)
	add("fan out", 1, 3)
	add("fan in", 2, 1)
	add("many", 2, 2)
	add("orphan", 1, 0)
	add("new", 0, 1)

	want := map[string]internal.MatchCategory{
		"one":     internal.CategoryExact1to1,
		"fan out": internal.CategoryLocal1ExternalN,
		"fan in":  internal.CategoryLocalNExternal1,
		"many":    internal.CategoryLocalNExternalM,
		"orphan":  internal.CategoryLocalOnly,
		"new":     internal.CategoryExternalOnly,
	}
	for title, category := range want {
		entry, got, ok := x.Classify(title)
		require.True(t, ok, title)
		assert.Equal(t, category, got, title)
		assert.Equal(t, title, entry.NormalizedTitle)
	}

	entry, _, _ := x.Classify("fan out")
	assert.Len(t, entry.External, 3)
	assert.Equal(t, "fan outa", entry.External[0].ExternalID)

	_, _, ok := x.Classify("missing")
	assert.False(t, ok)
}
