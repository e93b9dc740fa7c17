package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"journalsync/internal"
	"journalsync/internal/config"
	"journalsync/internal/metrics"
	"journalsync/internal/storage"
)

// SyncService runs straight paginated ingestion and records every run in an
// import log so it can be paused, resumed or cancelled from another process.
type SyncService struct {
	db      *storage.DB
	fetcher PageFetcher
	store   internal.Upserter
	cfg     config.Config
	log     *logrus.Logger

	Progress internal.ProgressFunc
	Stop     internal.StopToken
}

func NewSyncService(db *storage.DB, fetcher PageFetcher, store internal.Upserter, cfg config.Config, log *logrus.Logger) *SyncService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SyncService{db: db, fetcher: fetcher, store: store, cfg: cfg, log: log}
}

func (s *SyncService) FirstPage(ctx context.Context, filters internal.Filters, pageSize int) (*storage.ImportLog, error) {
	if pageSize <= 0 {
		pageSize = s.cfg.SyncPageSize
	}
	entry, err := s.db.CreateImportLog(ctx, uuid.NewString(), internal.ImportModeFirstPage, filters, pageSize)
	if err != nil {
		return nil, err
	}
	im := s.importer(ctx, entry.ID, filters)
	res, runErr := im.ImportFirstPage(ctx, pageSize)
	return s.finish(ctx, entry, res, runErr)
}

func (s *SyncService) AllPages(ctx context.Context, filters internal.Filters, pageSize int) (*storage.ImportLog, error) {
	if pageSize <= 0 {
		pageSize = s.cfg.SyncPageSize
	}
	entry, err := s.db.CreateImportLog(ctx, uuid.NewString(), internal.ImportModeAllPages, filters, pageSize)
	if err != nil {
		return nil, err
	}
	im := s.importer(ctx, entry.ID, filters)
	res, runErr := im.ImportAllPages(ctx, pageSize, 1, 0)
	return s.finish(ctx, entry, res, runErr)
}

// Resume continues a paused or failed all-pages run from its checkpoint with
// its original filters and page size.
func (s *SyncService) Resume(ctx context.Context, id int64) (*storage.ImportLog, error) {
	entry, err := s.db.GetImportLog(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.CanResume() {
		return nil, fmt.Errorf("import %d cannot be resumed (mode=%s status=%s)", id, entry.Mode, entry.Status)
	}
	if err := s.db.ResumeImport(ctx, id); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"import_id": id, "page": entry.CurrentPage, "offset": entry.PageOffset}).Info("resuming import")
	im := s.importer(ctx, id, entry.Filters)
	im.Restore(ImportCheckpoint{
		Page:      entry.CurrentPage,
		Offset:    entry.PageOffset,
		Processed: entry.Processed,
		Total:     entry.TotalRecords,
		Stats:     entry.Stats,
		Errors:    entry.Errors,
	})
	res, runErr := im.ImportAllPages(ctx, entry.PageSize, entry.CurrentPage, entry.PageOffset)
	return s.finish(ctx, entry, res, runErr)
}

func (s *SyncService) ImportFile(ctx context.Context, path string) (*storage.ImportLog, error) {
	entry, err := s.db.CreateImportLog(ctx, uuid.NewString(), internal.ImportModeFile, internal.Filters{Query: path}, 0)
	if err != nil {
		return nil, err
	}
	im := s.importer(ctx, entry.ID, internal.Filters{})
	res, runErr := NewFileImporter(im).ImportFile(ctx, path)
	return s.finish(ctx, entry, res, runErr)
}

// Pause and Cancel mark the log; the running importer notices at its next
// checkpoint.
func (s *SyncService) Pause(ctx context.Context, id int64) error {
	return s.db.RequestImportStop(ctx, id, internal.ImportPaused)
}

func (s *SyncService) Cancel(ctx context.Context, id int64) error {
	return s.db.RequestImportStop(ctx, id, internal.ImportCancelled)
}

func (s *SyncService) importer(ctx context.Context, id int64, filters internal.Filters) *Importer {
	return NewImporter(s.fetcher, s.store, ImporterOptions{
		Filters:            filters,
		PauseCheckInterval: s.cfg.PauseCheckInterval,
		Stop:               internal.AnyStop(s.Stop, s.db.ImportStop(ctx, id)),
		Progress:           s.Progress,
		Checkpoint: func(ctx context.Context, cp ImportCheckpoint) error {
			return s.db.SaveImportProgress(ctx, id, storage.ImportProgress{
				CurrentPage:  cp.Page,
				PageOffset:   cp.Offset,
				TotalRecords: cp.Total,
				Processed:    cp.Processed,
				Stats:        cp.Stats,
				Errors:       cp.Errors,
			})
		},
		Log: s.log,
	})
}

func (s *SyncService) finish(ctx context.Context, entry *storage.ImportLog, res ImportResult, runErr error) (*storage.ImportLog, error) {
	// The run context may already be done; final bookkeeping still has to land.
	saveCtx := context.WithoutCancel(ctx)
	cp := res.Checkpoint
	if err := s.db.SaveImportProgress(saveCtx, entry.ID, storage.ImportProgress{
		CurrentPage:  cp.Page,
		PageOffset:   cp.Offset,
		TotalRecords: res.Total,
		Processed:    res.Processed,
		Stats:        res.Stats,
		Errors:       res.Errors,
	}); err != nil {
		return nil, err
	}

	status := internal.ImportCompleted
	errMsg := ""
	switch {
	case errors.Is(runErr, internal.ErrPaused):
		status = internal.ImportPaused
	case errors.Is(runErr, internal.ErrCancelled):
		status = internal.ImportCancelled
	case runErr != nil:
		status = internal.ImportFailed
		errMsg = runErr.Error()
	}

	fields := logrus.Fields{"import_id": entry.ID, "mode": entry.Mode, "status": status}
	if runErr != nil && !internal.IsStop(runErr) {
		s.log.WithFields(fields).WithError(runErr).Error("import failed")
	} else {
		s.log.WithFields(fields).Info(res.Message())
	}
	metrics.RunsTotal.WithLabelValues("sync", string(status)).Inc()

	if err := s.db.FinishImport(saveCtx, entry.ID, status, res.Message(), errMsg); err != nil {
		return nil, err
	}
	if status == internal.ImportCompleted {
		_ = s.db.SetMetadata("sync.last_completed."+string(entry.Mode), time.Now().UTC().Format(time.RFC3339))
	}
	if refresher, ok := s.store.(interface {
		RefreshTopicCount(context.Context) (int, error)
	}); ok {
		if _, err := refresher.RefreshTopicCount(saveCtx); err != nil {
			s.log.WithError(err).Warn("topic count refresh failed")
		}
	}

	out, err := s.db.GetImportLog(saveCtx, entry.ID)
	if err != nil {
		return nil, err
	}
	if runErr != nil && !internal.IsStop(runErr) {
		return out, runErr
	}
	return out, nil
}
