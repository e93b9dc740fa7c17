package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalsync/internal"
)

func unifiedRow() map[string]any {
	return map[string]any{
		"unified": map[string]any{
			"id":             float64(1042),
			"canonical_name": "Journal of <i>Applied</i> Physics",
			"issn_l":         "0021-8979",
			"publisher":      "AIP Publishing",
		},
		"cover": map[string]any{"url": "/covers/0021-8979.png"},
		"sources": map[string]any{
			"openalex": map[string]any{
				"main":   map[string]any{"is_oa": false, "country_code": "US"},
				"topics": []any{map[string]any{"name": "Physics"}},
			},
			"jcr": map[string]any{
				"main":      map[string]any{},
				"all_years": []any{map[string]any{"year": 2024.0, "quartile": "Q2", "impact_factor": 2.7}},
			},
			"scimago": map[string]any{"main": map[string]any{"best_quartile": "q1", "h_index": 230.0}},
			"ccf":     map[string]any{"rank": "B"},
			"doaj":    map[string]any{},
			"unknown": map[string]any{"main": map[string]any{"x": 1}},
		},
	}
}

func TestParseExternalRecordShapes(t *testing.T) {
	rec, ok := ParseExternalRecord(unifiedRow())
	require.True(t, ok)
	assert.Equal(t, "1042", rec.ExternalID)
	assert.Equal(t, "0021-8979", rec.ISSNL)
	assert.Equal(t, "Journal of <i>Applied</i> Physics", rec.CanonicalName)

	legacy := map[string]any{
		"id":            "abc",
		"primary_issn":  "1234-5678",
		"unified_index": map[string]any{"title": "Legacy Journal"},
	}
	rec, ok = ParseExternalRecord(legacy)
	require.True(t, ok)
	assert.Equal(t, "abc", rec.ExternalID)
	assert.Equal(t, "1234-5678", rec.ISSNL)
	assert.Equal(t, "Legacy Journal", rec.CanonicalName)

	_, ok = ParseExternalRecord(map[string]any{"unified": map[string]any{"canonical_name": "No id"}})
	assert.False(t, ok)
}

func TestNormalizeSourcesUnifiedShape(t *testing.T) {
	sources := NormalizeSources(unifiedRow())

	assert.NotContains(t, sources, "unknown")
	assert.NotContains(t, sources, "doaj")
	require.Contains(t, sources, "openalex")
	assert.Len(t, sources["openalex"].Lists["topics"], 1)
	assert.Equal(t, "B", sources["ccf"].Main["rank"])
	assert.Len(t, sources["jcr"].Lists["all_years"], 1)
}

func TestNormalizeSourcesLegacyShape(t *testing.T) {
	row := map[string]any{
		"sources_by_provider": map[string]any{
			"jcr":      map[string]any{"data": []any{map[string]any{"quartile": "Q1"}, map[string]any{"quartile": "Q2"}}},
			"openalex": map[string]any{"data": `{"is_oa": true}`},
			"doaj":     map[string]any{"data": nil},
		},
	}
	sources := NormalizeSources(row)

	assert.Equal(t, "Q1", sources["jcr"].Main["quartile"])
	assert.Len(t, sources["jcr"].Lists["all_years"], 2)
	assert.Equal(t, true, sources["openalex"].Main["is_oa"])
	assert.NotContains(t, sources, "doaj")
}

func TestToFields(t *testing.T) {
	fields, err := ToFields(unifiedRow())
	require.NoError(t, err)

	assert.Equal(t, "0021-8979", fields.Identifier)
	assert.Equal(t, "Journal of Applied Physics", fields.Title)
	assert.Equal(t, "AIP Publishing", fields.Publisher)
	assert.Equal(t, "US", fields.Country)
	assert.Equal(t, "/covers/0021-8979.png", fields.CoverURL)
	assert.Equal(t, []string{"jcr:q2", "if:1~3", "sjr:q1", "h:200-plus", "ccf:b", "non-oa", "us"}, fields.Tags)
}

func TestToFieldsValidation(t *testing.T) {
	_, err := ToFields(map[string]any{"unified": map[string]any{"id": 1, "canonical_name": "No ISSN"}})
	var verr *internal.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "issn_l", verr.Field)
	assert.Equal(t, "No ISSN", verr.Title)

	_, err = ToFields(map[string]any{"primary_issn": "1111-2222"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	assert.Equal(t, "1111-2222", verr.Identifier)
}

func TestRangeTag(t *testing.T) {
	assert.Equal(t, "if:0~1", rangeTag("if", 0.4, []float64{1, 3}))
	assert.Equal(t, "if:1~3", rangeTag("if", 1, []float64{1, 3}))
	assert.Equal(t, "if:3-plus", rangeTag("if", 9, []float64{1, 3}))
}
