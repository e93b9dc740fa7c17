package catalog

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"journalsync/internal"
	"journalsync/internal/util"
)

// providerSections lists, per provider, the list-valued sections kept next
// to its main attributes. Providers not listed here are ignored.
var providerSections = map[string][]string{
	"crossref": {"issns", "subjects", "dois_by_year", "coverage_types"},
	"openalex": {"issns", "alternate_titles", "topics", "topic_shares", "counts_by_year", "apc_prices", "host_org_lineage", "societies"},
	"doaj": {
		"keywords", "subjects", "languages", "licenses", "apc_max", "editorial_review_processes",
		"preservation_services", "preservation_national_libraries", "deposit_policy_services", "pid_schemes",
	},
	"wikidata": {"types", "titles", "issns", "websites", "languages", "publishers", "subjects", "indexed_in"},
	"scimago":  {"all_years"},
	"jcr":      {"all_years"},
	"fqb":      {"all_years"},
	"gjqk":     {"all_years"},
	"scirev":   {"reviews"},
	"letpub":   nil,
	"ccf":      nil,
	"nlm":      nil,
}

func Providers() []string {
	return []string{"crossref", "openalex", "doaj", "wikidata", "scimago", "jcr", "fqb", "gjqk", "scirev", "letpub", "ccf", "nlm"}
}

// ParseExternalRecord reads the identity of an API row. Both the
// unified/sources shape and the legacy primary_issn/unified_index shape are
// accepted. ok is false when the row carries no id.
func ParseExternalRecord(row map[string]any) (internal.ExternalRecord, bool) {
	unified := asMap(row["unified"])
	legacy := asMap(row["unified_index"])

	rec := internal.ExternalRecord{
		ExternalID:    util.FirstNonEmpty(toIDString(unified["id"]), toIDString(row["id"])),
		CanonicalName: util.FirstNonEmpty(asString(unified["canonical_name"]), asString(unified["title"]), asString(legacy["title"]), asString(row["title"])),
		ISSNL:         util.FirstNonEmpty(asString(unified["issn_l"]), asString(row["primary_issn"]), asString(row["issn_l"]), asString(row["issn"])),
		Payload:       row,
	}
	return rec, rec.ExternalID != ""
}

// NormalizeSources maps the provider union of a row to one SourceRecord per
// provider present.
func NormalizeSources(row map[string]any) map[string]internal.SourceRecord {
	out := map[string]internal.SourceRecord{}

	if sources := asMap(row["sources"]); len(sources) > 0 {
		for provider, raw := range sources {
			sections, known := providerSections[provider]
			if !known {
				continue
			}
			rec, ok := fromSourceEntry(provider, raw, sections)
			if ok {
				out[provider] = rec
			}
		}
	}

	for provider, raw := range asMap(row["sources_by_provider"]) {
		if _, known := providerSections[provider]; !known {
			continue
		}
		if _, done := out[provider]; done {
			continue
		}
		rec, ok := fromLegacyEntry(provider, raw)
		if ok {
			out[provider] = rec
		}
	}

	return out
}

func fromSourceEntry(provider string, raw any, sections []string) (internal.SourceRecord, bool) {
	m := asMap(raw)
	if len(m) == 0 {
		return internal.SourceRecord{}, false
	}
	rec := internal.SourceRecord{Provider: provider}
	if main, ok := m["main"]; ok {
		rec.Main = asMap(main)
	} else if len(sections) == 0 {
		rec.Main = m
	}
	for _, key := range sections {
		if list := asSlice(m[key]); len(list) > 0 {
			if rec.Lists == nil {
				rec.Lists = map[string][]any{}
			}
			rec.Lists[key] = list
		}
	}
	return rec, len(rec.Main) > 0 || len(rec.Lists) > 0
}

func fromLegacyEntry(provider string, raw any) (internal.SourceRecord, bool) {
	data := asMap(raw)["data"]
	rec := internal.SourceRecord{Provider: provider}
	switch v := data.(type) {
	case map[string]any:
		rec.Main = v
	case []any:
		if len(v) == 0 {
			return rec, false
		}
		rec.Main = asMap(v[0])
		rec.Lists = map[string][]any{"all_years": v}
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return rec, false
		}
		return fromLegacyEntry(provider, map[string]any{"data": decoded})
	default:
		return rec, false
	}
	return rec, len(rec.Main) > 0 || len(rec.Lists) > 0
}

// ToFields turns an API or file row into upsert-ready fields. A row without
// an identifier or a title yields a *ValidationError.
func ToFields(row map[string]any) (internal.JournalFields, error) {
	rec, _ := ParseExternalRecord(row)
	unified := asMap(row["unified"])

	if rec.ISSNL == "" {
		return internal.JournalFields{}, &internal.ValidationError{Field: "issn_l", Title: rec.CanonicalName}
	}
	if rec.CanonicalName == "" {
		return internal.JournalFields{}, &internal.ValidationError{Field: "title", Identifier: rec.ISSNL}
	}

	sources := NormalizeSources(row)
	fields := internal.JournalFields{
		Identifier: rec.ISSNL,
		Title:      util.CleanTitle(rec.CanonicalName),
		Publisher: util.FirstNonEmpty(
			asString(unified["publisher"]),
			asString(sources["openalex"].Main["host_organization_name"]),
			asString(sources["doaj"].Main["publisher"]),
			asString(sources["crossref"].Main["publisher"]),
		),
		Country: util.FirstNonEmpty(
			asString(unified["country"]),
			asString(unified["country_code"]),
			asString(sources["openalex"].Main["country_code"]),
			asString(sources["doaj"].Main["country"]),
		),
		CoverURL: util.FirstNonEmpty(asString(asMap(row["cover"])["url"]), asString(unified["cover_url"])),
		Sources:  sources,
	}
	fields.Tags = DeriveTags(fields)
	return fields, nil
}

// DeriveTags computes the taxonomy tags of a journal from its sources.
func DeriveTags(fields internal.JournalFields) []string {
	var tags []string
	add := func(tag string) {
		tag = util.Slug(tag)
		if tag == "" {
			return
		}
		for _, t := range tags {
			if t == tag {
				return
			}
		}
		tags = append(tags, tag)
	}

	jcr := fields.Sources["jcr"]
	if q := quartile(latest(jcr, "quartile")); q != "" {
		add("jcr:" + q)
	}
	if v, ok := toFloat(latest(jcr, "impact_factor")); ok && v > 0 {
		add(rangeTag("if", v, []float64{1, 3, 5, 10, 20}))
	}

	scimago := fields.Sources["scimago"]
	if q := quartile(util.FirstNonEmpty(asString(latest(scimago, "best_quartile")), asString(latest(scimago, "quartile")))); q != "" {
		add("sjr:" + q)
	}
	if v, ok := toFloat(latest(scimago, "h_index")); ok && v >= 0 {
		add(rangeTag("h", v, []float64{20, 50, 100, 200}))
	}

	if rank := strings.ToUpper(strings.TrimSpace(asString(fields.Sources["ccf"].Main["rank"]))); rank == "A" || rank == "B" || rank == "C" {
		add("ccf:" + strings.ToLower(rank))
	}

	if _, ok := fields.Sources["doaj"]; ok {
		add("doaj")
	}
	if oa, ok := fields.Sources["openalex"].Main["is_oa"].(bool); ok {
		if oa {
			add("oa")
		} else {
			add("non-oa")
		}
	}

	if fields.Country != "" {
		add(fields.Country)
	}
	return tags
}

func latest(src internal.SourceRecord, key string) any {
	if v, ok := src.Main[key]; ok && v != nil {
		return v
	}
	if years := src.Lists["all_years"]; len(years) > 0 {
		return asMap(years[0])[key]
	}
	return nil
}

func quartile(v any) string {
	s := strings.ToUpper(strings.TrimSpace(asString(v)))
	switch s {
	case "Q1", "Q2", "Q3", "Q4":
		return strings.ToLower(s)
	}
	return ""
}

func rangeTag(prefix string, v float64, bounds []float64) string {
	lower := 0.0
	for _, b := range bounds {
		if v < b {
			return prefix + ":" + formatBound(lower) + "~" + formatBound(b)
		}
		lower = b
	}
	return prefix + ":" + formatBound(lower) + "-plus"
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64, int, int64, json.Number:
		return toIDString(t)
	default:
		return ""
	}
}

func toIDString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
