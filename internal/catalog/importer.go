package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"journalsync/internal"
	"journalsync/internal/metrics"
)

const maxRecordedErrors = 500

type PageFetcher interface {
	FetchPage(ctx context.Context, page, pageSize int, filters internal.Filters) (internal.Page, error)
}

// ImportCheckpoint is the resumable position of an all-pages import: Offset
// rows of Page are done.
type ImportCheckpoint struct {
	Page      int                    `json:"page"`
	Offset    int                    `json:"offset"`
	Processed int                    `json:"processed"`
	Total     int                    `json:"total"`
	Stats     internal.RunStats      `json:"stats"`
	Errors    []internal.ImportError `json:"errors,omitempty"`
}

type CheckpointFunc func(ctx context.Context, cp ImportCheckpoint) error

type ImportResult struct {
	Stats      internal.RunStats
	Processed  int
	Total      int
	Errors     []internal.ImportError
	Checkpoint ImportCheckpoint
}

func (r ImportResult) Message() string {
	return fmt.Sprintf("processed %d of %d: created %d, updated %d, skipped %d, errors %d",
		r.Processed, r.Total, r.Stats.Created, r.Stats.Updated, r.Stats.Skipped, r.Stats.Errors)
}

type ImporterOptions struct {
	Filters            internal.Filters
	PauseCheckInterval int
	Stop               internal.StopToken
	Progress           internal.ProgressFunc
	Checkpoint         CheckpointFunc
	Log                *logrus.Logger
}

type Importer struct {
	fetcher  PageFetcher
	upserter internal.Upserter
	opts     ImporterOptions
	log      *logrus.Entry

	stats     internal.RunStats
	processed int
	total     int
	errors    []internal.ImportError
}

func NewImporter(fetcher PageFetcher, upserter internal.Upserter, opts ImporterOptions) *Importer {
	if opts.PauseCheckInterval <= 0 {
		opts.PauseCheckInterval = 50
	}
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Importer{
		fetcher:  fetcher,
		upserter: upserter,
		opts:     opts,
		log:      log.WithField("component", "importer"),
	}
}

// Restore seeds counters from a previous checkpoint so a resumed run keeps
// accumulating.
func (im *Importer) Restore(cp ImportCheckpoint) {
	im.stats = cp.Stats
	im.processed = cp.Processed
	im.total = cp.Total
	im.errors = append([]internal.ImportError(nil), cp.Errors...)
}

func (im *Importer) ImportFirstPage(ctx context.Context, pageSize int) (ImportResult, error) {
	page, err := im.fetcher.FetchPage(ctx, 1, pageSize, im.opts.Filters)
	if err != nil {
		return im.result(0, ImportCheckpoint{}), err
	}

	total := len(page.Rows)
	im.log.WithFields(logrus.Fields{"page_size": pageSize, "rows": total}).Info("importing first page")

	for i, row := range page.Rows {
		if err := im.processRow(ctx, row); err != nil {
			return im.result(total, im.checkpoint(1, i, total)), err
		}
		im.processed++
		im.report(total, fmt.Sprintf("processed %d/%d", im.processed, total))

		if err := internal.CheckStop(im.opts.Stop); err != nil {
			return im.result(total, im.checkpoint(1, i+1, total)), err
		}
	}

	return im.result(total, im.checkpoint(1, total, total)), nil
}

// ImportAllPages walks pages startPage..totalPages, skipping the first
// skipCount rows of startPage. Every PauseCheckInterval records it persists
// a checkpoint and polls the stop token. The token is not polled in between,
// so a stop requested after the last checkpoint is never seen and the run
// completes.
//
// A run that ends early reports the counters of its last checkpoint, so
// resuming from that checkpoint neither loses nor double counts rows.
func (im *Importer) ImportAllPages(ctx context.Context, pageSize, startPage, skipCount int) (ImportResult, error) {
	if pageSize <= 0 {
		return ImportResult{}, fmt.Errorf("invalid page size %d", pageSize)
	}
	if startPage < 1 {
		startPage = 1
	}

	probe, err := im.fetcher.FetchPage(ctx, 1, 1, im.opts.Filters)
	if err != nil {
		return im.snapshot(im.checkpoint(startPage, skipCount, im.total)), err
	}
	total := probe.Pagination.Total
	totalPages := (total + pageSize - 1) / pageSize

	im.log.WithFields(logrus.Fields{
		"total":       total,
		"total_pages": totalPages,
		"start_page":  startPage,
		"skip":        skipCount,
	}).Info("importing all pages")

	last := im.checkpoint(startPage, skipCount, total)
	for pageNo := startPage; pageNo <= totalPages; pageNo++ {
		page, err := im.fetcher.FetchPage(ctx, pageNo, pageSize, im.opts.Filters)
		if err != nil {
			return im.snapshot(last), err
		}
		if len(page.Rows) == 0 {
			break
		}

		first := 0
		if pageNo == startPage {
			first = min(skipCount, len(page.Rows))
		}

		for i := first; i < len(page.Rows); i++ {
			if err := im.processRow(ctx, page.Rows[i]); err != nil {
				return im.snapshot(last), err
			}
			im.processed++
			im.report(total, fmt.Sprintf("page %d/%d, processed %d/%d", pageNo, totalPages, im.processed, total))

			if im.processed%im.opts.PauseCheckInterval != 0 {
				continue
			}
			last = im.checkpoint(pageNo, i+1, total)
			if err := im.save(ctx, last); err != nil {
				return im.snapshot(last), err
			}
			if err := internal.CheckStop(im.opts.Stop); err != nil {
				im.log.WithFields(logrus.Fields{"page": pageNo, "offset": i + 1}).WithError(err).Info("import stopped")
				return im.snapshot(last), err
			}
		}
		last = im.checkpoint(pageNo+1, 0, total)
	}

	return im.result(total, last), nil
}

func (im *Importer) processRow(ctx context.Context, row map[string]any) error {
	fields, err := ToFields(row)
	if err != nil {
		var verr *internal.ValidationError
		if errors.As(err, &verr) {
			im.stats.Skipped++
			metrics.Record("sync", "skipped", 1)
			im.recordError(verr.Identifier, verr.Title, err.Error())
			return nil
		}
		return err
	}

	outcome, err := im.upserter.Upsert(ctx, fields, nil)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		im.stats.Errors++
		metrics.Record("sync", "error", 1)
		im.log.WithField("issn", fields.Identifier).WithError(err).Warn("upsert failed, skipping")
		im.recordError(fields.Identifier, fields.Title, err.Error())
		return nil
	}

	switch outcome {
	case internal.UpsertCreated:
		im.stats.Created++
	case internal.UpsertUpdated:
		im.stats.Updated++
	}
	metrics.Record("sync", string(outcome), 1)
	return nil
}

func (im *Importer) recordError(issn, title, reason string) {
	if len(im.errors) >= maxRecordedErrors {
		return
	}
	im.errors = append(im.errors, internal.ImportError{Identifier: issn, Title: title, Reason: reason, At: time.Now().UTC()})
}

func (im *Importer) save(ctx context.Context, cp ImportCheckpoint) error {
	metrics.CheckpointsTotal.WithLabelValues("sync").Inc()
	if im.opts.Checkpoint == nil {
		return nil
	}
	return im.opts.Checkpoint(ctx, cp)
}

func (im *Importer) report(total int, msg string) {
	percent := 0.0
	if total > 0 {
		percent = float64(im.processed) * 100 / float64(total)
	}
	im.opts.Progress.Report(internal.Progress{
		Phase:   "sync",
		Percent: percent,
		Current: im.processed,
		Total:   total,
		Message: msg,
		Stats:   im.stats,
	})
}

func (im *Importer) checkpoint(page, offset, total int) ImportCheckpoint {
	return ImportCheckpoint{
		Page:      page,
		Offset:    offset,
		Processed: im.processed,
		Total:     total,
		Stats:     im.stats,
		Errors:    append([]internal.ImportError(nil), im.errors...),
	}
}

// snapshot reports a checkpoint's own counters rather than the live ones,
// which may include rows past the checkpoint.
func (im *Importer) snapshot(cp ImportCheckpoint) ImportResult {
	return ImportResult{
		Stats:      cp.Stats,
		Processed:  cp.Processed,
		Total:      cp.Total,
		Errors:     append([]internal.ImportError(nil), cp.Errors...),
		Checkpoint: cp,
	}
}

func (im *Importer) result(total int, cp ImportCheckpoint) ImportResult {
	return ImportResult{
		Stats:      im.stats,
		Processed:  im.processed,
		Total:      total,
		Errors:     append([]internal.ImportError(nil), im.errors...),
		Checkpoint: cp,
	}
}
