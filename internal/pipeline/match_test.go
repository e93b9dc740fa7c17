package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalsync/internal"
)

func runMatcher(t *testing.T, local []internal.LocalRecord, remote []map[string]any, opts MatcherOptions) (internal.MatchResult, *Matcher) {
	t.Helper()
	if opts.PageSize == 0 {
		opts.PageSize = 2
	}
	opts.Log = testLogger()
	m := NewMatcher(&fakeLocal{records: local}, &fakeRemote{rows: remote}, opts)
	result, err := m.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, m.State())
	return result, m
}

func TestMatcherExactOneToOne(t *testing.T) {
	result, _ := runMatcher(t,
		[]internal.LocalRecord{{ID: 1, Title: "Journal A"}},
		[]map[string]any{extRow(11, "Journal A")},
		MatcherOptions{},
	)

	require.Len(t, result[internal.CategoryExact1to1], 1)
	entry := result[internal.CategoryExact1to1][0]
	assert.Equal(t, "journal a", entry.NormalizedTitle)
	assert.Equal(t, int64(1), entry.Local[0].ID)
	assert.Equal(t, "11", entry.External[0].ExternalID)

	plan := BuildActionPlan(result)
	assert.Equal(t, []internal.UpdateAction{{ExternalID: "11", LocalID: 1}}, plan.Updates)
	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Deletes)
}

func TestMatcherManyLocalsOneExternal(t *testing.T) {
	result, _ := runMatcher(t,
		[]internal.LocalRecord{{ID: 1, Title: "Journal B"}, {ID: 2, Title: " journal b "}},
		[]map[string]any{extRow(11, "JOURNAL B")},
		MatcherOptions{},
	)

	require.Len(t, result[internal.CategoryLocalNExternal1], 1)
	plan := BuildActionPlan(result)
	assert.Equal(t, map[string]int64{"11": 1}, plan.UpdateMap())
	assert.Equal(t, []int64{2}, plan.Deletes)
	assert.Empty(t, plan.Creates)
}

func TestMatcherLocalOnly(t *testing.T) {
	result, m := runMatcher(t,
		[]internal.LocalRecord{{ID: 1, Title: "Journal C"}},
		nil,
		MatcherOptions{},
	)

	require.Len(t, result[internal.CategoryLocalOnly], 1)
	assert.Equal(t, []int64{1}, BuildActionPlan(result).Deletes)

	local, external := m.Totals()
	assert.Equal(t, 1, local)
	assert.Equal(t, 0, external)
}

func TestMatcherAllCategories(t *testing.T) {
	local := []internal.LocalRecord{
		{ID: 1, Title: "Exact"},
		{ID: 2, Title: "One Local"},
		{ID: 3, Title: "Many Locals"},
		{ID: 4, Title: "Many Locals"},
		{ID: 5, Title: "Many Both"},
		{ID: 6, Title: "Many Both"},
		{ID: 7, Title: "Orphan"},
		{ID: 8, Title: "   "},
	}
	remote := []map[string]any{
		extRow(11, "Exact"),
		extRow(12, "One Local"),
		extRow(13, "One Local"),
		extRow(14, "Many Locals"),
		extRow(15, "Many Both"),
		extRow(16, "Many Both"),
		extRow(17, "New Journal"),
		extRow(18, ""),
	}
	result, m := runMatcher(t, local, remote, MatcherOptions{PageSize: 3, Concurrency: 2})

	counts := result.Counts()
	assert.Equal(t, 1, counts[internal.CategoryExact1to1])
	assert.Equal(t, 1, counts[internal.CategoryLocal1ExternalN])
	assert.Equal(t, 1, counts[internal.CategoryLocalNExternal1])
	assert.Equal(t, 1, counts[internal.CategoryLocalNExternalM])
	assert.Equal(t, 1, counts[internal.CategoryLocalOnly])
	assert.Equal(t, 1, counts[internal.CategoryExternalOnly])

	// Blank titles are counted as records but never indexed.
	localTotal, externalTotal := m.Totals()
	assert.Equal(t, 8, localTotal)
	assert.Equal(t, 8, externalTotal)
	localTitles, externalTitles := m.Index().Sizes()
	assert.Equal(t, 5, localTitles)
	assert.Equal(t, 5, externalTitles)
}

func TestMatcherCategoryIndependentOfInsertionOrder(t *testing.T) {
	local := []internal.LocalRecord{{ID: 1, Title: "Alpha"}, {ID: 2, Title: "Beta"}, {ID: 3, Title: "alpha"}}
	remote := []map[string]any{extRow(11, "ALPHA"), extRow(12, "Gamma"), extRow(13, "beta")}

	forward, _ := runMatcher(t, local, remote, MatcherOptions{})

	reversedLocal := []internal.LocalRecord{local[2], local[1], local[0]}
	reversedRemote := []map[string]any{remote[2], remote[1], remote[0]}
	backward, _ := runMatcher(t, reversedLocal, reversedRemote, MatcherOptions{})

	titles := func(r internal.MatchResult) map[string]internal.MatchCategory {
		out := map[string]internal.MatchCategory{}
		for c, entries := range r {
			for _, e := range entries {
				out[e.NormalizedTitle] = c
			}
		}
		return out
	}
	assert.Equal(t, titles(forward), titles(backward))
	assert.Equal(t, internal.CategoryLocalNExternal1, titles(forward)["alpha"])
}

func TestMatcherNormalizesBothSides(t *testing.T) {
	result, _ := runMatcher(t,
		[]internal.LocalRecord{{ID: 1, Title: "Journal &amp; Review"}},
		[]map[string]any{extRow(11, "<i>Journal & Review</i>")},
		MatcherOptions{},
	)
	require.Len(t, result[internal.CategoryExact1to1], 1)
	assert.Equal(t, "journal & review", result[internal.CategoryExact1to1][0].NormalizedTitle)
}

func TestMatcherExternalPagesKeepPageOrder(t *testing.T) {
	var remote []map[string]any
	for i := 1; i <= 13; i++ {
		remote = append(remote, extRow(i, "Same Title"))
	}
	fetcher := &fakeRemote{rows: remote}
	m := NewMatcher(&fakeLocal{}, fetcher, MatcherOptions{PageSize: 2, Concurrency: 3, Log: testLogger()})

	result, err := m.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result[internal.CategoryExternalOnly], 1)
	var ids []string
	for _, ref := range result[internal.CategoryExternalOnly][0].External {
		ids = append(ids, ref.ExternalID)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12", "13"}, ids)
	assert.Len(t, fetcher.pageCalls, 7)
}

func TestMatcherReportsProgress(t *testing.T) {
	var local []internal.LocalRecord
	for i := 1; i <= 25; i++ {
		local = append(local, internal.LocalRecord{ID: int64(i), Title: "T"})
	}
	var phases []string
	m := NewMatcher(&fakeLocal{records: local}, &fakeRemote{}, MatcherOptions{
		LocalBatchSize:     5,
		LocalProgressEvery: 10,
		Progress:           func(p internal.Progress) { phases = append(phases, p.Phase) },
		Log:                testLogger(),
	})
	_, err := m.Run(context.Background())
	require.NoError(t, err)

	localReports := 0
	for _, p := range phases {
		if p == string(StateBuildingLocal) {
			localReports++
		}
	}
	// At 10, at 20, then the final report.
	assert.Equal(t, 3, localReports)
	assert.Contains(t, phases, string(StateCrossMatching))
}

func TestMatcherPausesAtBatchBoundary(t *testing.T) {
	var local []internal.LocalRecord
	for i := 1; i <= 30; i++ {
		local = append(local, internal.LocalRecord{ID: int64(i), Title: "T"})
	}
	remote := &fakeRemote{rows: []map[string]any{extRow(1, "T")}}
	m := NewMatcher(&fakeLocal{records: local}, remote, MatcherOptions{
		LocalBatchSize:     10,
		LocalProgressEvery: 10,
		Stop:               &stopAfter{after: 1, err: internal.ErrPaused},
		Log:                testLogger(),
	})

	_, err := m.Run(context.Background())
	require.ErrorIs(t, err, internal.ErrPaused)
	assert.Equal(t, StatePaused, m.State())

	local20, _ := m.Totals()
	assert.Equal(t, 20, local20)
	assert.Empty(t, remote.pageCalls)
}

func TestMatcherPageFailureAbortsBuild(t *testing.T) {
	var rows []map[string]any
	for i := 1; i <= 10; i++ {
		rows = append(rows, extRow(i, "T"))
	}
	boom := &internal.RemoteError{Op: "journals", Err: errors.New("giving up")}
	m := NewMatcher(&fakeLocal{}, &fakeRemote{rows: rows, pageFail: map[int]error{4: boom}}, MatcherOptions{
		PageSize:    2,
		Concurrency: 2,
		Log:         testLogger(),
	})

	_, err := m.Run(context.Background())
	var remoteErr *internal.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, err.Error(), "fetch page 4")
	assert.Equal(t, StateFailed, m.State())
}
