package catalog

import (
	"journalsync/internal"
	"journalsync/internal/util"
)

// Index joins local and external records on normalized title. Lists keep
// encounter order and duplicates; titles remember the order they were first
// seen, locals before externals.
type Index struct {
	Local    map[string][]internal.LocalRecord
	External map[string][]internal.ExternalRecord

	titles []string
	seen   map[string]struct{}
}

func NewIndex() *Index {
	return &Index{
		Local:    map[string][]internal.LocalRecord{},
		External: map[string][]internal.ExternalRecord{},
		seen:     map[string]struct{}{},
	}
}

// AddLocal indexes rec and reports whether its title normalized to
// something non-empty.
func (x *Index) AddLocal(rec internal.LocalRecord) bool {
	key := util.NormalizeLocalTitle(rec.Title)
	if key == "" {
		return false
	}
	x.Local[key] = append(x.Local[key], rec)
	x.see(key)
	return true
}

func (x *Index) AddExternal(rec internal.ExternalRecord) bool {
	key := util.NormalizeExternalTitle(rec.CanonicalName)
	if key == "" {
		return false
	}
	x.External[key] = append(x.External[key], rec)
	x.see(key)
	return true
}

func (x *Index) see(key string) {
	if _, ok := x.seen[key]; ok {
		return
	}
	x.seen[key] = struct{}{}
	x.titles = append(x.titles, key)
}

func (x *Index) Titles() []string {
	return x.titles
}

func (x *Index) Sizes() (local, external int) {
	return len(x.Local), len(x.External)
}

// Classify places title in exactly one category. ok is false for a title
// that is in neither side.
func (x *Index) Classify(title string) (internal.MatchEntry, internal.MatchCategory, bool) {
	locals := x.Local[title]
	externals := x.External[title]

	entry := internal.MatchEntry{NormalizedTitle: title, Local: append([]internal.LocalRecord(nil), locals...)}
	for _, e := range externals {
		entry.External = append(entry.External, e.Ref())
	}

	nl, ne := len(locals), len(externals)
	switch {
	case nl == 0 && ne == 0:
		return entry, "", false
	case ne == 0:
		return entry, internal.CategoryLocalOnly, true
	case nl == 0:
		return entry, internal.CategoryExternalOnly, true
	case nl == 1 && ne == 1:
		return entry, internal.CategoryExact1to1, true
	case nl == 1:
		return entry, internal.CategoryLocal1ExternalN, true
	case ne == 1:
		return entry, internal.CategoryLocalNExternal1, true
	default:
		return entry, internal.CategoryLocalNExternalM, true
	}
}
