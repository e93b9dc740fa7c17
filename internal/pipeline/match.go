package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"journalsync/internal"
	"journalsync/internal/catalog"
	"journalsync/internal/metrics"
)

type MatchState string

const (
	StatePending        MatchState = "pending"
	StateBuildingLocal  MatchState = "building_local_index"
	StateBuildingRemote MatchState = "building_external_index"
	StateCrossMatching  MatchState = "cross_matching"
	StateCompleted      MatchState = "completed"
	StatePaused         MatchState = "paused"
	StateFailed         MatchState = "failed"
)

type LocalSource interface {
	EachLocalBatch(ctx context.Context, batchSize int, fn func([]internal.LocalRecord) error) error
}

type MatcherOptions struct {
	Filters               internal.Filters
	PageSize              int
	Concurrency           int
	LocalBatchSize        int
	LocalProgressEvery    int
	ExternalProgressEvery int
	CrossCheckEvery       int
	Stop                  internal.StopToken
	Progress              internal.ProgressFunc
	Log                   *logrus.Logger
}

func (o *MatcherOptions) defaults() {
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 5
	}
	if o.LocalBatchSize <= 0 {
		o.LocalBatchSize = 1000
	}
	if o.LocalProgressEvery <= 0 {
		o.LocalProgressEvery = 10000
	}
	if o.ExternalProgressEvery <= 0 {
		o.ExternalProgressEvery = 1
	}
	if o.CrossCheckEvery <= 0 {
		o.CrossCheckEvery = 50000
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
}

// Matcher builds the local and external title indexes and classifies every
// normalized title into one match category.
type Matcher struct {
	local  LocalSource
	remote catalog.PageFetcher
	opts   MatcherOptions
	log    *logrus.Entry

	mu    sync.Mutex
	state MatchState

	index         *catalog.Index
	localCount    int
	externalCount int
}

func NewMatcher(local LocalSource, remote catalog.PageFetcher, opts MatcherOptions) *Matcher {
	opts.defaults()
	return &Matcher{
		local:  local,
		remote: remote,
		opts:   opts,
		log:    opts.Log.WithField("component", "matcher"),
		state:  StatePending,
		index:  catalog.NewIndex(),
	}
}

func (m *Matcher) State() MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Matcher) setState(s MatchState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.log.WithField("state", s).Debug("matcher state")
}

// Totals are record counts, not distinct titles.
func (m *Matcher) Totals() (local, external int) {
	return m.localCount, m.externalCount
}

func (m *Matcher) Index() *catalog.Index {
	return m.index
}

func (m *Matcher) Run(ctx context.Context) (internal.MatchResult, error) {
	result, err := m.run(ctx)
	switch {
	case err == nil:
		m.setState(StateCompleted)
	case internal.IsStop(err):
		m.setState(StatePaused)
	default:
		m.setState(StateFailed)
	}
	return result, err
}

func (m *Matcher) run(ctx context.Context) (internal.MatchResult, error) {
	m.setState(StateBuildingLocal)
	if err := m.buildLocal(ctx); err != nil {
		return nil, err
	}

	m.setState(StateBuildingRemote)
	if err := m.buildExternal(ctx); err != nil {
		return nil, err
	}

	m.setState(StateCrossMatching)
	return m.crossMatch()
}

func (m *Matcher) buildLocal(ctx context.Context) error {
	next := m.opts.LocalProgressEvery
	err := m.local.EachLocalBatch(ctx, m.opts.LocalBatchSize, func(batch []internal.LocalRecord) error {
		for _, rec := range batch {
			m.index.AddLocal(rec)
		}
		m.localCount += len(batch)
		if m.localCount < next {
			return nil
		}
		for next <= m.localCount {
			next += m.opts.LocalProgressEvery
		}
		m.report(string(StateBuildingLocal), 0, m.localCount, 0, fmt.Sprintf("indexed %d local records", m.localCount))
		return internal.CheckStop(m.opts.Stop)
	})
	if err != nil {
		return err
	}

	titles, _ := m.index.Sizes()
	metrics.IndexedTitles.WithLabelValues("local").Set(float64(titles))
	m.log.WithFields(logrus.Fields{"records": m.localCount, "titles": titles}).Info("local index built")
	m.report(string(StateBuildingLocal), 0, m.localCount, m.localCount, fmt.Sprintf("indexed %d local records", m.localCount))
	return internal.CheckStop(m.opts.Stop)
}

func (m *Matcher) buildExternal(ctx context.Context) error {
	first, err := m.remote.FetchPage(ctx, 1, m.opts.PageSize, m.opts.Filters)
	if err != nil {
		return fmt.Errorf("fetch page 1: %w", err)
	}
	total := first.Pagination.Total
	totalPages := first.Pagination.TotalPages
	m.addRows(first.Rows)

	m.log.WithFields(logrus.Fields{"total": total, "total_pages": totalPages, "concurrency": m.opts.Concurrency}).Info("building external index")

	width := m.opts.Concurrency
	group := 0
	for start := 2; start <= totalPages; start += width {
		if err := internal.CheckStop(m.opts.Stop); err != nil {
			return err
		}

		end := min(start+width-1, totalPages)
		slots := make([][]map[string]any, end-start+1)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(width)
		for p := start; p <= end; p++ {
			g.Go(func() error {
				page, err := m.remote.FetchPage(gctx, p, m.opts.PageSize, m.opts.Filters)
				if err != nil {
					return fmt.Errorf("fetch page %d: %w", p, err)
				}
				slots[p-start] = page.Rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, rows := range slots {
			m.addRows(rows)
		}

		group++
		if group%m.opts.ExternalProgressEvery == 0 || end == totalPages {
			m.report(string(StateBuildingRemote), percentOf(end, totalPages), m.externalCount, total,
				fmt.Sprintf("fetched page %d/%d, %d external records", end, totalPages, m.externalCount))
		}
	}

	_, titles := m.index.Sizes()
	metrics.IndexedTitles.WithLabelValues("external").Set(float64(titles))
	m.log.WithFields(logrus.Fields{"records": m.externalCount, "titles": titles}).Info("external index built")
	return internal.CheckStop(m.opts.Stop)
}

func (m *Matcher) addRows(rows []map[string]any) {
	for _, row := range rows {
		rec, ok := catalog.ParseExternalRecord(row)
		if !ok {
			continue
		}
		rec.Payload = nil
		m.externalCount++
		m.index.AddExternal(rec)
	}
}

func (m *Matcher) crossMatch() (internal.MatchResult, error) {
	titles := m.index.Titles()
	result := internal.MatchResult{}
	for i, title := range titles {
		if i > 0 && i%m.opts.CrossCheckEvery == 0 {
			m.report(string(StateCrossMatching), percentOf(i, len(titles)), i, len(titles), fmt.Sprintf("matched %d/%d titles", i, len(titles)))
			if err := internal.CheckStop(m.opts.Stop); err != nil {
				return nil, err
			}
		}
		entry, category, ok := m.index.Classify(title)
		if !ok {
			continue
		}
		result[category] = append(result[category], entry)
	}

	counts := result.Counts()
	fields := logrus.Fields{}
	for c, n := range counts {
		fields[string(c)] = n
	}
	m.log.WithFields(fields).Info("cross matching done")
	m.report(string(StateCrossMatching), 100, len(titles), len(titles), fmt.Sprintf("matched %d titles", len(titles)))
	return result, nil
}

func (m *Matcher) report(phase string, percent float64, current, total int, msg string) {
	m.opts.Progress.Report(internal.Progress{
		Phase:   phase,
		Percent: percent,
		Current: current,
		Total:   total,
		Message: msg,
	})
}

func percentOf(n, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(n) * 100 / float64(total)
}
