package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"journalsync/internal"
	"journalsync/internal/catalog"
	"journalsync/internal/config"
	"journalsync/internal/notify"
	"journalsync/internal/pipeline"
	"journalsync/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:           "journalsync",
		Short:         "Reconcile and sync a local journal catalog with the journal API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newAnalyzeCmd())
	root.AddCommand(newApplyCmd())
	root.AddCommand(newPauseCmd())
	root.AddCommand(newAnalysisCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newListenCmd())
	root.AddCommand(newStatusCmd())

	ctx, stop := signalContext()
	defer stop()
	must(root.ExecuteContext(ctx))
}

// app holds the wiring shared by every command.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	db      *storage.DB
	store   *storage.ContentStore
	tags    *storage.TagCache
	client  *catalog.Client
	mailer  *notify.Mailer
	metrics *http.Server
}

// openApp loads config and opens the database. needPartition refuses to
// start without JOURNAL_CATEGORY.
func openApp(needPartition bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	category := strings.TrimSpace(cfg.JournalCategory)
	if needPartition {
		if category, err = cfg.Partition(); err != nil {
			return nil, err
		}
	}

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	tags := storage.NewTagCache(db)
	if err := tags.Warm(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warm tag cache: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    log,
		db:     db,
		store:  storage.NewContentStore(db, category, tags),
		tags:   tags,
		client: catalog.NewClient(cfg, catalog.NewRateLimiter(cfg.APIRateLimitRPS), log),
		mailer: notify.NewMailer(cfg, log),
	}
	a.serveMetrics()
	return a, nil
}

func (a *app) Close() {
	hits, fills := a.tags.Stats()
	a.log.WithFields(logrus.Fields{"hits": hits, "fills": fills}).Debug("tag cache")
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = a.metrics.Shutdown(ctx)
		cancel()
	}
	_ = a.db.Close()
}

func (a *app) serveMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Warn("metrics server stopped")
		}
	}()
	a.log.WithField("addr", a.cfg.MetricsAddr).Info("serving metrics")
}

func (a *app) pipeline(ctx context.Context) *pipeline.Service {
	svc := pipeline.NewService(a.db, a.store, a.client, a.cfg, a.log)
	svc.Progress = newProgressPrinter(a.log).Report
	svc.Stop = stopperFrom(ctx)
	return svc
}

func (a *app) syncService(ctx context.Context) *catalog.SyncService {
	svc := catalog.NewSyncService(a.db, a.client, a.store, a.cfg, a.log)
	svc.Progress = newProgressPrinter(a.log).Report
	svc.Stop = stopperFrom(ctx)
	return svc
}

func (a *app) report(ctx context.Context, r notify.Report) {
	if err := a.mailer.Send(context.WithoutCancel(ctx), r); err != nil {
		a.log.WithError(err).Warn("run report not sent")
	}
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

type stopperKey struct{}

// signalContext pauses the running job on the first SIGINT/SIGTERM so its
// checkpoint is kept, and cancels the context on the second.
func signalContext() (context.Context, func()) {
	stopper := internal.NewStopper()
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), stopperKey{}, stopper))

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		n := 0
		for {
			select {
			case <-sigs:
				n++
				if n == 1 {
					fmt.Fprintln(os.Stderr, "pausing at the next checkpoint, interrupt again to abort")
					stopper.Pause()
					continue
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

func stopperFrom(ctx context.Context) internal.StopToken {
	if s, ok := ctx.Value(stopperKey{}).(*internal.Stopper); ok {
		return s
	}
	return nil
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
