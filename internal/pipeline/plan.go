package pipeline

import "journalsync/internal"

// BuildActionPlan flattens a match result into updates, creates and deletes.
// In every matched group the first local is kept and paired with the first
// external; other locals are deleted and other externals created.
func BuildActionPlan(result internal.MatchResult) internal.ActionPlan {
	b := planBuilder{
		plan: internal.ActionPlan{
			Updates: []internal.UpdateAction{},
			Creates: []string{},
			Deletes: []int64{},
		},
		planned: map[string]struct{}{},
		kept:    map[int64]struct{}{},
		deleted: map[int64]struct{}{},
	}

	for _, category := range internal.AllCategories {
		for _, entry := range result[category] {
			switch category {
			case internal.CategoryLocalOnly:
				for _, l := range entry.Local {
					b.delete(l.ID)
				}
			case internal.CategoryExternalOnly:
				for _, e := range entry.External {
					b.create(e.ExternalID)
				}
			default:
				b.pair(entry)
			}
		}
	}
	return b.plan
}

type planBuilder struct {
	plan    internal.ActionPlan
	planned map[string]struct{}
	kept    map[int64]struct{}
	deleted map[int64]struct{}
}

func (b *planBuilder) pair(entry internal.MatchEntry) {
	switch {
	case len(entry.Local) == 0:
		for _, e := range entry.External {
			b.create(e.ExternalID)
		}
		return
	case len(entry.External) == 0:
		for _, l := range entry.Local {
			b.delete(l.ID)
		}
		return
	}

	b.update(entry.External[0].ExternalID, entry.Local[0].ID)
	for _, l := range entry.Local[1:] {
		b.delete(l.ID)
	}
	for _, e := range entry.External[1:] {
		b.create(e.ExternalID)
	}
}

func (b *planBuilder) update(externalID string, localID int64) {
	if _, ok := b.planned[externalID]; ok {
		return
	}
	b.planned[externalID] = struct{}{}
	b.kept[localID] = struct{}{}
	b.plan.Updates = append(b.plan.Updates, internal.UpdateAction{ExternalID: externalID, LocalID: localID})
}

func (b *planBuilder) create(externalID string) {
	if _, ok := b.planned[externalID]; ok {
		return
	}
	b.planned[externalID] = struct{}{}
	b.plan.Creates = append(b.plan.Creates, externalID)
}

func (b *planBuilder) delete(localID int64) {
	if _, ok := b.kept[localID]; ok {
		return
	}
	if _, ok := b.deleted[localID]; ok {
		return
	}
	b.deleted[localID] = struct{}{}
	b.plan.Deletes = append(b.plan.Deletes, localID)
}
