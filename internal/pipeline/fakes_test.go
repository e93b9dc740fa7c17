package pipeline

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"journalsync/internal"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

type fakeLocal struct {
	records []internal.LocalRecord
}

func (f *fakeLocal) EachLocalBatch(_ context.Context, batchSize int, fn func([]internal.LocalRecord) error) error {
	for start := 0; start < len(f.records); start += batchSize {
		if err := fn(f.records[start:min(start+batchSize, len(f.records))]); err != nil {
			return err
		}
	}
	return nil
}

func extRow(id int, name string) map[string]any {
	return map[string]any{
		"unified": map[string]any{
			"id":             float64(id),
			"canonical_name": name,
			"issn_l":         fmt.Sprintf("1000-%04d", id),
		},
	}
}

// fakeRemote serves pages over rows and byIds lookups by unified id.
type fakeRemote struct {
	mu sync.Mutex

	rows      []map[string]any
	pageFail  map[int]error
	idsFail   error
	missing   map[string]bool
	pageCalls []int
	idsCalls  [][]string
}

func (f *fakeRemote) FetchPage(_ context.Context, page, pageSize int, _ internal.Filters) (internal.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, page)
	if err := f.pageFail[page]; err != nil {
		return internal.Page{}, err
	}
	start := (page - 1) * pageSize
	var rows []map[string]any
	if start < len(f.rows) {
		rows = f.rows[start:min(start+pageSize, len(f.rows))]
	}
	total := len(f.rows)
	return internal.Page{
		Rows:       rows,
		Pagination: internal.Pagination{Total: total, Page: page, TotalPages: (total + pageSize - 1) / pageSize},
	}, nil
}

func (f *fakeRemote) FetchByIDs(_ context.Context, ids []string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idsCalls = append(f.idsCalls, append([]string(nil), ids...))
	if f.idsFail != nil {
		return nil, f.idsFail
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []map[string]any
	for _, row := range f.rows {
		id := fmt.Sprint(row["unified"].(map[string]any)["id"])
		if want[id] && !f.missing[id] {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeRemote) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.idsCalls {
		out = append(out, call...)
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i], out[j]) })
	return out
}

func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// fakeStore records upserts and deletes. Topic ids in existing are the only
// ones BulkDeleteLocal can remove.
type fakeStore struct {
	mu sync.Mutex

	existing map[int64]bool
	failOn   map[string]error
	onUpsert func(identifier string)
	upserts  map[string]*int64
	byISSN   map[string]bool
	deletes  [][]int64
}

func newFakeStore(existing ...int64) *fakeStore {
	s := &fakeStore{
		existing: map[int64]bool{},
		failOn:   map[string]error{},
		upserts:  map[string]*int64{},
		byISSN:   map[string]bool{},
	}
	for _, id := range existing {
		s.existing[id] = true
	}
	return s
}

func (s *fakeStore) Upsert(_ context.Context, fields internal.JournalFields, existingID *int64) (internal.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onUpsert != nil {
		s.onUpsert(fields.Identifier)
	}
	if err := s.failOn[fields.Identifier]; err != nil {
		return "", err
	}
	s.upserts[fields.Identifier] = existingID
	if existingID != nil || s.byISSN[fields.Identifier] {
		return internal.UpsertUpdated, nil
	}
	s.byISSN[fields.Identifier] = true
	return internal.UpsertCreated, nil
}

func (s *fakeStore) BulkDeleteLocal(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, append([]int64(nil), ids...))
	n := 0
	for _, id := range ids {
		if s.existing[id] {
			delete(s.existing, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) upserted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.upserts))
	for k := range s.upserts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func issn(id int) string {
	return fmt.Sprintf("1000-%04d", id)
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
