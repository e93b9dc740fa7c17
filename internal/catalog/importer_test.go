package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalsync/internal"
)

type fakeFetcher struct {
	mu    sync.Mutex
	rows  []map[string]any
	calls []string
	fail  map[int]error
}

func (f *fakeFetcher) FetchPage(_ context.Context, page, pageSize int, _ internal.Filters) (internal.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%d/%d", page, pageSize))
	if err := f.fail[page]; err != nil && pageSize > 1 {
		return internal.Page{}, err
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, len(f.rows))
	var rows []map[string]any
	if start < len(f.rows) {
		rows = f.rows[start:end]
	}
	total := len(f.rows)
	return internal.Page{
		Rows:       rows,
		Pagination: internal.Pagination{Total: total, Page: page, TotalPages: (total + pageSize - 1) / pageSize},
	}, nil
}

type fakeUpserter struct {
	mu       sync.Mutex
	seen     map[string]int64
	order    []string
	existing []*int64
	failOn   map[string]error
	nextID   int64
}

func newFakeUpserter() *fakeUpserter {
	return &fakeUpserter{seen: map[string]int64{}, failOn: map[string]error{}}
}

func (u *fakeUpserter) Upsert(_ context.Context, fields internal.JournalFields, existingID *int64) (internal.UpsertOutcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.failOn[fields.Identifier]; err != nil {
		return "", err
	}
	u.order = append(u.order, fields.Identifier)
	u.existing = append(u.existing, existingID)
	if existingID != nil {
		u.seen[fields.Identifier] = *existingID
		return internal.UpsertUpdated, nil
	}
	if _, ok := u.seen[fields.Identifier]; ok {
		return internal.UpsertUpdated, nil
	}
	u.nextID++
	u.seen[fields.Identifier] = u.nextID
	return internal.UpsertCreated, nil
}

func journalRow(i int) map[string]any {
	return map[string]any{
		"unified": map[string]any{
			"id":             float64(i),
			"canonical_name": fmt.Sprintf("Journal %d", i),
			"issn_l":         fmt.Sprintf("0000-%04d", i),
		},
	}
}

func journalRows(n int) []map[string]any {
	rows := make([]map[string]any, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, journalRow(i))
	}
	return rows
}

type stopAfter struct {
	mu    sync.Mutex
	calls int
	after int
	err   error
}

func (s *stopAfter) Stopped() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls > s.after {
		return s.err
	}
	return nil
}

func TestImportFirstPage(t *testing.T) {
	rows := journalRows(3)
	rows[1] = map[string]any{"unified": map[string]any{"id": 2.0, "issn_l": "0000-0002"}}
	fetcher := &fakeFetcher{rows: rows}
	upserter := newFakeUpserter()

	var progress []internal.Progress
	im := NewImporter(fetcher, upserter, ImporterOptions{
		Progress: func(p internal.Progress) { progress = append(progress, p) },
		Log:      testLogger(),
	})

	res, err := im.ImportFirstPage(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"1/10"}, fetcher.calls)
	assert.Equal(t, internal.RunStats{Created: 2, Skipped: 1}, res.Stats)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "0000-0002", res.Errors[0].Identifier)
	assert.Equal(t, "missing title", res.Errors[0].Reason)
	assert.Len(t, progress, 3)
	assert.InDelta(t, 100.0, progress[2].Percent, 0.001)
}

func TestImportAllPagesCheckpointsAndCounts(t *testing.T) {
	fetcher := &fakeFetcher{rows: journalRows(5)}
	upserter := newFakeUpserter()
	upserter.failOn["0000-0004"] = errors.New("constraint violation")

	var checkpoints []ImportCheckpoint
	im := NewImporter(fetcher, upserter, ImporterOptions{
		PauseCheckInterval: 2,
		Checkpoint: func(_ context.Context, cp ImportCheckpoint) error {
			checkpoints = append(checkpoints, cp)
			return nil
		},
		Log: testLogger(),
	})

	res, err := im.ImportAllPages(context.Background(), 2, 1, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"1/1", "1/2", "2/2", "3/2"}, fetcher.calls)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, internal.RunStats{Created: 4, Errors: 1}, res.Stats)
	require.Len(t, checkpoints, 2)
	assert.Equal(t, ImportCheckpoint{Page: 1, Offset: 2, Processed: 2, Total: 5, Stats: internal.RunStats{Created: 2}}, checkpoints[0])
	assert.Equal(t, 2, checkpoints[1].Page)
	assert.Equal(t, 2, checkpoints[1].Offset)
}

func TestImportAllPagesPauseAndResume(t *testing.T) {
	rows := journalRows(7)

	single := NewImporter(&fakeFetcher{rows: rows}, newFakeUpserter(), ImporterOptions{PauseCheckInterval: 3, Log: testLogger()})
	want, err := single.ImportAllPages(context.Background(), 2, 1, 0)
	require.NoError(t, err)

	upserter := newFakeUpserter()
	first := NewImporter(&fakeFetcher{rows: rows}, upserter, ImporterOptions{
		PauseCheckInterval: 3,
		Stop:               &stopAfter{after: 0, err: internal.ErrPaused},
		Log:                testLogger(),
	})
	paused, err := first.ImportAllPages(context.Background(), 2, 1, 0)
	require.ErrorIs(t, err, internal.ErrPaused)
	assert.Equal(t, ImportCheckpoint{Page: 2, Offset: 1, Processed: 3, Total: 7, Stats: internal.RunStats{Created: 3}}, paused.Checkpoint)

	second := NewImporter(&fakeFetcher{rows: rows}, upserter, ImporterOptions{PauseCheckInterval: 3, Log: testLogger()})
	second.Restore(paused.Checkpoint)
	resumed, err := second.ImportAllPages(context.Background(), 2, paused.Checkpoint.Page, paused.Checkpoint.Offset)
	require.NoError(t, err)

	assert.Equal(t, want.Stats, resumed.Stats)
	assert.Equal(t, want.Processed, resumed.Processed)
	assert.Len(t, upserter.order, 7)
}

func TestImportAllPagesCancel(t *testing.T) {
	im := NewImporter(&fakeFetcher{rows: journalRows(4)}, newFakeUpserter(), ImporterOptions{
		PauseCheckInterval: 1,
		Stop:               &stopAfter{after: 1, err: internal.ErrCancelled},
		Log:                testLogger(),
	})
	res, err := im.ImportAllPages(context.Background(), 10, 1, 0)
	require.ErrorIs(t, err, internal.ErrCancelled)
	assert.Equal(t, 2, res.Processed)
}

func TestImportAllPagesPollsStopOnlyAtCheckpoints(t *testing.T) {
	stop := &stopAfter{after: 2, err: internal.ErrPaused}
	im := NewImporter(&fakeFetcher{rows: journalRows(5)}, newFakeUpserter(), ImporterOptions{
		PauseCheckInterval: 2,
		Stop:               stop,
		Log:                testLogger(),
	})
	res, err := im.ImportAllPages(context.Background(), 5, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 2, stop.calls)
}

type downFetcher struct{ err error }

func (f downFetcher) FetchPage(context.Context, int, int, internal.Filters) (internal.Page, error) {
	return internal.Page{}, f.err
}

func TestImportAllPagesProbeFailureKeepsResumePosition(t *testing.T) {
	remote := &internal.RemoteError{Op: "journals", StatusCode: 502}
	im := NewImporter(downFetcher{err: remote}, newFakeUpserter(), ImporterOptions{Log: testLogger()})
	from := ImportCheckpoint{Page: 2, Offset: 1, Processed: 3, Total: 7, Stats: internal.RunStats{Created: 3}}
	im.Restore(from)

	res, err := im.ImportAllPages(context.Background(), 2, from.Page, from.Offset)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, from, res.Checkpoint)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 7, res.Total)
}

func TestImportAllPagesFetchFailure(t *testing.T) {
	remote := &internal.RemoteError{Op: "journals", StatusCode: 500}
	fetcher := &fakeFetcher{rows: journalRows(4), fail: map[int]error{2: remote}}
	im := NewImporter(fetcher, newFakeUpserter(), ImporterOptions{PauseCheckInterval: 50, Log: testLogger()})

	res, err := im.ImportAllPages(context.Background(), 2, 1, 0)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, res.Checkpoint.Page)
	assert.Equal(t, 0, res.Checkpoint.Offset)
}
