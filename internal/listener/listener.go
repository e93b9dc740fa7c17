package listener

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"journalsync/internal"
	"journalsync/internal/config"
	"journalsync/internal/notify"
	"journalsync/internal/storage"
)

type Syncer interface {
	FirstPage(ctx context.Context, filters internal.Filters, pageSize int) (*storage.ImportLog, error)
}

type Reporter interface {
	Send(ctx context.Context, r notify.Report) error
}

// Service polls the first page of the catalog on a fixed interval so newly
// listed journals show up without a full sync.
type Service struct {
	sync     Syncer
	reporter Reporter
	filters  internal.Filters
	pageSize int
	interval time.Duration
	log      *logrus.Logger
}

func NewService(sync Syncer, reporter Reporter, filters internal.Filters, cfg config.Config, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	interval := time.Duration(cfg.ListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	return &Service{
		sync:     sync,
		reporter: reporter,
		filters:  filters,
		pageSize: cfg.ListenerPageSize,
		interval: interval,
		log:      log,
	}
}

// Run cycles until ctx is done. A failed cycle is logged and retried on the
// next tick.
func (s *Service) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{"interval": s.interval, "page_size": s.pageSize}).Info("listener started")
	for {
		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("listener cycle failed")
		}

		select {
		case <-ctx.Done():
			s.log.Info("listener stopped")
			return nil
		case <-time.After(s.interval):
		}
	}
}

func (s *Service) RunCycle(ctx context.Context) (*storage.ImportLog, error) {
	entry, err := s.sync.FirstPage(ctx, s.filters, s.pageSize)
	if entry != nil {
		s.log.WithFields(logrus.Fields{
			"import_id": entry.ID,
			"status":    entry.Status,
			"created":   entry.Stats.Created,
			"updated":   entry.Stats.Updated,
		}).Info("listener cycle done")
		s.report(ctx, entry)
	}
	return entry, err
}

// report only mails cycles that changed something or failed.
func (s *Service) report(ctx context.Context, entry *storage.ImportLog) {
	if s.reporter == nil {
		return
	}
	if entry.Status == internal.ImportCompleted && entry.Stats.Created == 0 && entry.Stats.Errors == 0 {
		return
	}
	err := s.reporter.Send(ctx, notify.Report{
		Run:     "listen",
		ID:      entry.ID,
		Status:  string(entry.Status),
		Stats:   entry.Stats,
		Message: entry.ResultMessage,
		Error:   entry.ErrorMessage,
	})
	if err != nil {
		s.log.WithError(err).Warn("listener report failed")
	}
}
