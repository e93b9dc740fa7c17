package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"journalsync/internal"
	"journalsync/internal/catalog"
	"journalsync/internal/config"
	"journalsync/internal/metrics"
	"journalsync/internal/storage"
)

type RemoteCatalog interface {
	catalog.PageFetcher
	RecordFetcher
}

type Store interface {
	LocalSource
	ContentStore
	Category() string
	RefreshTopicCount(ctx context.Context) (int, error)
}

// Service runs analyses and applies them, persisting run state so either
// can be paused from another process and applies can be resumed.
type Service struct {
	db     *storage.DB
	store  Store
	remote RemoteCatalog
	cfg    config.Config
	log    *logrus.Logger

	Progress internal.ProgressFunc
	Stop     internal.StopToken
}

func NewService(db *storage.DB, store Store, remote RemoteCatalog, cfg config.Config, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, store: store, remote: remote, cfg: cfg, log: log}
}

func (s *Service) Analyze(ctx context.Context, filters internal.Filters) (*storage.Analysis, error) {
	category := s.store.Category()
	if err := s.cfg.Require("JOURNAL_CATEGORY", category); err != nil {
		return nil, err
	}

	a, err := s.db.CreateAnalysis(ctx, category, uuid.NewString())
	if err != nil {
		return nil, err
	}
	log := s.log.WithFields(logrus.Fields{"analysis_id": a.ID, "trace_id": a.TraceID, "category": category})
	log.Info("analysis started")

	if err := s.db.SetAnalysisStatus(ctx, a.ID, internal.AnalysisProcessing, "starting"); err != nil {
		return nil, err
	}

	matcher := NewMatcher(s.store, s.remote, MatcherOptions{
		Filters:     filters,
		PageSize:    s.cfg.AnalysisPageSize,
		Concurrency: s.cfg.FetchConcurrency,
		Stop:        internal.AnyStop(s.Stop, s.db.AnalysisStop(ctx, a.ID)),
		Progress: func(p internal.Progress) {
			s.Progress.Report(p)
			_ = s.db.SetAnalysisProgress(ctx, a.ID, p.Message)
		},
		Log: s.log,
	})

	result, runErr := matcher.Run(ctx)
	saveCtx := context.WithoutCancel(ctx)
	switch {
	case internal.IsStop(runErr):
		log.WithField("state", matcher.State()).Info("analysis paused")
		metrics.RunsTotal.WithLabelValues("analysis", string(internal.AnalysisPaused)).Inc()
		if err := s.db.SetAnalysisStatus(saveCtx, a.ID, internal.AnalysisPaused, "paused"); err != nil {
			return nil, err
		}
		return s.db.MustAnalysis(saveCtx, a.ID)
	case runErr != nil:
		log.WithError(runErr).Error("analysis failed")
		metrics.RunsTotal.WithLabelValues("analysis", string(internal.AnalysisFailed)).Inc()
		if err := s.db.FailAnalysis(saveCtx, a.ID, runErr.Error()); err != nil {
			return nil, err
		}
		out, err := s.db.MustAnalysis(saveCtx, a.ID)
		if err != nil {
			return nil, err
		}
		return out, runErr
	}

	localTotal, externalTotal := matcher.Totals()
	if err := s.db.CompleteAnalysis(saveCtx, a.ID, result, localTotal, externalTotal); err != nil {
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues("analysis", string(internal.AnalysisCompleted)).Inc()
	log.WithFields(logrus.Fields{"local": localTotal, "external": externalTotal}).Info("analysis completed")
	return s.db.MustAnalysis(saveCtx, a.ID)
}

// Plan returns the cached action plan of an analysis, building and caching
// it from the stored categories on first use.
func (s *Service) Plan(ctx context.Context, id int64) (internal.ActionPlan, error) {
	cached, err := s.db.LoadApplyPlan(ctx, id)
	if err != nil {
		return internal.ActionPlan{}, err
	}
	if cached != nil {
		return *cached, nil
	}
	result, err := s.db.AnalysisResult(ctx, id)
	if err != nil {
		return internal.ActionPlan{}, err
	}
	plan := BuildActionPlan(result)
	return plan, s.db.SaveApplyPlan(ctx, id, plan)
}

func (s *Service) Apply(ctx context.Context, id int64, resume bool) (*storage.Analysis, error) {
	a, err := s.db.MustAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	if resume && !a.CanResumeApply() {
		return nil, fmt.Errorf("analysis %d cannot resume apply (status=%s apply=%s)", id, a.Status, a.ApplyStatus)
	}
	if !resume && !a.CanApply() {
		return nil, fmt.Errorf("analysis %d cannot be applied (status=%s apply=%s)", id, a.Status, a.ApplyStatus)
	}

	from := Resume{}
	if resume {
		from = Resume{Checkpoint: a.ApplyCheckpoint, Stats: a.ApplyStats}
	}

	if err := s.db.BeginApply(ctx, id, resume); err != nil {
		return nil, err
	}
	plan, err := s.Plan(ctx, id)
	if err != nil {
		_ = s.db.FinishApply(context.WithoutCancel(ctx), id, internal.ApplyFailed, from.Stats, err.Error())
		return nil, fmt.Errorf("build action plan: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"analysis_id": id, "trace_id": a.TraceID, "resume": resume})
	log.WithFields(logrus.Fields{"updates": len(plan.Updates), "creates": len(plan.Creates), "deletes": len(plan.Deletes)}).Info("apply started")

	applier := NewApplier(s.store, s.remote, ApplierOptions{
		DeleteBatchSize: s.cfg.DeleteBatchSize,
		ByIDsBatchSize:  s.cfg.ByIDsBatchSize,
		Concurrency:     s.cfg.FetchConcurrency,
		Workers:         s.cfg.UpsertWorkers,
		Stop:            internal.AnyStop(s.Stop, s.db.ApplyStop(ctx, id)),
		Progress:        s.Progress,
		Checkpoint: func(ctx context.Context, cp internal.SyncCheckpoint, stats internal.RunStats) error {
			return s.db.SaveApplyProgress(ctx, id, cp, stats)
		},
		Log: s.log,
	})

	stats, runErr := applier.Run(ctx, plan, from)
	saveCtx := context.WithoutCancel(ctx)

	status := internal.ApplyCompleted
	errMsg := ""
	switch {
	case errors.Is(runErr, internal.ErrPaused):
		status = internal.ApplyPaused
	case errors.Is(runErr, internal.ErrCancelled):
		status = internal.ApplyNotApplied
		errMsg = runErr.Error()
	case runErr != nil:
		status = internal.ApplyFailed
		errMsg = runErr.Error()
	}

	if err := s.db.FinishApply(saveCtx, id, status, stats, errMsg); err != nil {
		return nil, err
	}
	if errors.Is(runErr, internal.ErrCancelled) {
		if err := s.db.DiscardApplyCheckpoint(saveCtx, id); err != nil {
			return nil, err
		}
	}
	metrics.RunsTotal.WithLabelValues("apply", string(status)).Inc()

	if n, err := s.store.RefreshTopicCount(saveCtx); err != nil {
		log.WithError(err).Warn("topic count refresh failed")
	} else {
		log.WithField("topics", n).Debug("topic count refreshed")
	}

	fields := logrus.Fields{
		"status":  status,
		"created": stats.Created,
		"updated": stats.Updated,
		"deleted": stats.Deleted,
		"skipped": stats.Skipped,
		"errors":  stats.Errors,
	}
	if runErr != nil && !internal.IsStop(runErr) {
		log.WithFields(fields).WithError(runErr).Error("apply failed")
	} else {
		log.WithFields(fields).Info("apply finished")
	}

	out, err := s.db.MustAnalysis(saveCtx, id)
	if err != nil {
		return nil, err
	}
	if runErr != nil && !internal.IsStop(runErr) {
		return out, runErr
	}
	return out, nil
}

func (s *Service) PauseAnalysis(ctx context.Context, id int64) (bool, error) {
	return s.db.RequestAnalysisPause(ctx, id)
}

func (s *Service) PauseApply(ctx context.Context, id int64) (bool, error) {
	return s.db.RequestApplyPause(ctx, id)
}

// CancelApply stops a running apply at its next check, or resets a paused
// or failed one so the next apply starts over.
func (s *Service) CancelApply(ctx context.Context, id int64) (bool, error) {
	ok, err := s.db.CancelApply(ctx, id)
	if err == nil && ok {
		s.log.WithField("analysis_id", id).Info("apply cancel requested")
	}
	return ok, err
}

func (s *Service) Details(ctx context.Context, id int64, category internal.MatchCategory, page, perPage int) (storage.DetailsPage, error) {
	return s.db.AnalysisDetails(ctx, id, category, page, perPage)
}
