package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"journalsync/internal"
	"journalsync/internal/catalog"
	"journalsync/internal/metrics"
)

type ContentStore interface {
	internal.Upserter
	BulkDeleteLocal(ctx context.Context, ids []int64) (int, error)
}

type RecordFetcher interface {
	FetchByIDs(ctx context.Context, ids []string) ([]map[string]any, error)
}

type ApplyCheckpointFunc func(ctx context.Context, cp internal.SyncCheckpoint, stats internal.RunStats) error

type ApplierOptions struct {
	DeleteBatchSize int
	ByIDsBatchSize  int
	Concurrency     int
	Workers         int
	Stop            internal.StopToken
	Progress        internal.ProgressFunc
	Checkpoint      ApplyCheckpointFunc
	Log             *logrus.Logger
}

// Resume carries the persisted position of an interrupted apply.
type Resume struct {
	Checkpoint *internal.SyncCheckpoint
	Stats      internal.RunStats
}

type Applier struct {
	store   ContentStore
	fetcher RecordFetcher
	pool    *WorkerPool
	opts    ApplierOptions
	log     *logrus.Entry
	now     func() time.Time
}

func NewApplier(store ContentStore, fetcher RecordFetcher, opts ApplierOptions) *Applier {
	if opts.DeleteBatchSize <= 0 {
		opts.DeleteBatchSize = 200
	}
	if opts.ByIDsBatchSize <= 0 {
		opts.ByIDsBatchSize = 50
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Applier{
		store:   store,
		fetcher: fetcher,
		pool:    NewWorkerPool(opts.Workers),
		opts:    opts,
		log:     opts.Log.WithField("component", "applier"),
		now:     time.Now,
	}
}

// Run executes plan from the resume position. On a fatal error the returned
// stats are those of the last checkpoint plus the one error.
func (a *Applier) Run(ctx context.Context, plan internal.ActionPlan, resume Resume) (internal.RunStats, error) {
	stats := resume.Stats
	cp := internal.SyncCheckpoint{Phase: internal.PhaseDeletes}
	if resume.Checkpoint != nil {
		cp = *resume.Checkpoint
	}

	if cp.Phase != internal.PhaseAPISync {
		var err error
		stats, err = a.runDeletes(ctx, plan.Deletes, cp.Offset, stats)
		if err != nil {
			return stats, err
		}
		cp = internal.SyncCheckpoint{Phase: internal.PhaseAPISync}
		if err := a.save(ctx, cp, stats); err != nil {
			return stats, err
		}
	} else {
		a.log.WithField("offset", cp.Offset).Info("resuming in api_sync, deletes already done")
	}

	return a.runSync(ctx, plan, cp.Offset, stats)
}

func (a *Applier) runDeletes(ctx context.Context, ids []int64, offset int, stats internal.RunStats) (internal.RunStats, error) {
	size := a.opts.DeleteBatchSize
	a.log.WithFields(logrus.Fields{"deletes": len(ids), "offset": offset, "batch": size}).Info("delete phase")

	for off := offset; off < len(ids); off += size {
		if err := internal.CheckStop(a.opts.Stop); err != nil {
			return stats, err
		}

		end := min(off+size, len(ids))
		batch := ids[off:end]
		n, err := a.store.BulkDeleteLocal(ctx, batch)
		if err != nil {
			return stats, fmt.Errorf("bulk delete at offset %d: %w", off, err)
		}
		stats.Deleted += int64(n)
		stats.Skipped += int64(len(batch) - n)
		metrics.Record("apply", "deleted", int64(n))
		metrics.Record("apply", "skipped", int64(len(batch)-n))

		if err := a.save(ctx, internal.SyncCheckpoint{Phase: internal.PhaseDeletes, Offset: end}, stats); err != nil {
			return stats, err
		}
		a.opts.Progress.Report(internal.Progress{
			Phase:   string(internal.PhaseDeletes),
			Percent: percentOf(end, len(ids)),
			Current: end,
			Total:   len(ids),
			Message: fmt.Sprintf("deleted %d/%d", end, len(ids)),
			Stats:   stats,
		})
	}
	return stats, nil
}

type syncJob struct {
	externalID string
	row        map[string]any
	localID    *int64
}

type groupCounters struct {
	created atomic.Int64
	updated atomic.Int64
}

func (a *Applier) runSync(ctx context.Context, plan internal.ActionPlan, offset int, stats internal.RunStats) (internal.RunStats, error) {
	ids := plan.SyncIDs()
	updates := plan.UpdateMap()
	groupSize := a.opts.ByIDsBatchSize * a.opts.Concurrency
	started := a.now()

	a.log.WithFields(logrus.Fields{
		"updates": len(plan.Updates),
		"creates": len(plan.Creates),
		"offset":  offset,
		"workers": a.pool.Size(),
	}).Info("api_sync phase")

	for off := offset; off < len(ids); {
		if err := internal.CheckStop(a.opts.Stop); err != nil {
			return stats, err
		}

		end := min(off+groupSize, len(ids))
		group := ids[off:end]
		rows, err := a.fetchGroup(ctx, group)
		if err != nil {
			return stats, fmt.Errorf("fetch records at offset %d: %w", off, err)
		}

		var upd, crt []syncJob
		missing := 0
		for _, id := range group {
			row, ok := rows[id]
			if !ok {
				missing++
				continue
			}
			if local, ok := updates[id]; ok {
				upd = append(upd, syncJob{externalID: id, row: row, localID: &local})
			} else {
				crt = append(crt, syncJob{externalID: id, row: row})
			}
		}

		var counters groupCounters
		err = a.pool.Run(ctx, len(upd), func(ctx context.Context, i int) error {
			return a.apply(ctx, upd[i], &counters)
		})
		if err == nil {
			// Creates look up by identifier, so they run one at a time.
			for _, job := range crt {
				if err = a.apply(ctx, job, &counters); err != nil {
					break
				}
			}
		}
		if err != nil && ctx.Err() != nil {
			// Jobs cut short by cancellation are not record errors; the
			// group is redone from the last checkpoint on resume.
			a.log.WithField("offset", off).WithError(ctx.Err()).Warn("apply interrupted")
			return stats, fmt.Errorf("apply interrupted at offset %d: %w", off, ctx.Err())
		}
		if err != nil {
			failed := stats
			failed.Errors++
			metrics.Record("apply", "error", 1)
			a.log.WithField("offset", off).WithError(err).Error("apply aborted")
			return failed, err
		}

		stats.Created += counters.created.Load()
		stats.Updated += counters.updated.Load()
		stats.Skipped += int64(missing)
		metrics.Record("apply", "skipped", int64(missing))
		if missing > 0 {
			a.log.WithFields(logrus.Fields{"offset": off, "missing": missing}).Warn("records not returned by the API")
		}

		off = end
		if err := a.save(ctx, internal.SyncCheckpoint{Phase: internal.PhaseAPISync, Offset: off}, stats); err != nil {
			return stats, err
		}
		a.opts.Progress.Report(internal.Progress{
			Phase:   string(internal.PhaseAPISync),
			Percent: percentOf(off, len(ids)),
			Current: off,
			Total:   len(ids),
			Message: etaMessage(off-offset, len(ids)-off, a.now().Sub(started), off, len(ids)),
			Stats:   stats,
		})
	}
	return stats, nil
}

// fetchGroup fetches the ids in byIds batches, Concurrency batches at a time,
// and indexes the returned rows by external id.
func (a *Applier) fetchGroup(ctx context.Context, ids []string) (map[string]map[string]any, error) {
	size := a.opts.ByIDsBatchSize
	slots := make([][]map[string]any, (len(ids)+size-1)/size)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i := range slots {
		batch := ids[i*size : min((i+1)*size, len(ids))]
		g.Go(func() error {
			rows, err := a.fetcher.FetchByIDs(gctx, batch)
			if err != nil {
				return err
			}
			slots[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(ids))
	for _, rows := range slots {
		for _, row := range rows {
			if rec, ok := catalog.ParseExternalRecord(row); ok {
				out[rec.ExternalID] = row
			}
		}
	}
	return out, nil
}

func (a *Applier) apply(ctx context.Context, job syncJob, c *groupCounters) error {
	fields, err := catalog.ToFields(job.row)
	if err != nil {
		return &internal.FatalApplyError{ExternalID: job.externalID, Err: err}
	}
	outcome, err := a.store.Upsert(ctx, fields, job.localID)
	if err != nil {
		return &internal.FatalApplyError{ExternalID: job.externalID, Err: err}
	}
	switch outcome {
	case internal.UpsertCreated:
		c.created.Add(1)
	case internal.UpsertUpdated:
		c.updated.Add(1)
	}
	metrics.Record("apply", string(outcome), 1)
	return nil
}

func (a *Applier) save(ctx context.Context, cp internal.SyncCheckpoint, stats internal.RunStats) error {
	metrics.CheckpointsTotal.WithLabelValues("apply").Inc()
	if a.opts.Checkpoint == nil {
		return nil
	}
	return a.opts.Checkpoint(ctx, cp, stats)
}

func etaMessage(done, remaining int, elapsed time.Duration, current, total int) string {
	msg := fmt.Sprintf("synced %d/%d", current, total)
	if done <= 0 || elapsed <= 0 {
		return msg
	}
	rate := float64(done) / elapsed.Seconds()
	eta := time.Duration(float64(remaining) / rate * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%s, %.1f/s, eta %s", msg, rate, eta)
}
