package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"journalsync/internal"
	"journalsync/internal/listener"
	"journalsync/internal/notify"
	"journalsync/internal/pipeline"
	"journalsync/internal/storage"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import journals page by page straight from the API",
	}
	cmd.AddCommand(newSyncRunCmd("first-page", "Import only the first page"))
	cmd.AddCommand(newSyncRunCmd("all-pages", "Import every page, checkpointing as it goes"))
	cmd.AddCommand(newSyncResumeCmd())
	cmd.AddCommand(newSyncStopCmd("pause", internal.ImportPaused))
	cmd.AddCommand(newSyncStopCmd("cancel", internal.ImportCancelled))
	cmd.AddCommand(newSyncLogsCmd())
	cmd.AddCommand(newSyncErrorsCmd())
	return cmd
}

func newSyncRunCmd(mode, short string) *cobra.Command {
	var (
		ff       filterFlags
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			svc := a.syncService(ctx)
			var entry *storage.ImportLog
			if mode == "first-page" {
				entry, err = svc.FirstPage(ctx, ff.filters(cmd), pageSize)
			} else {
				entry, err = svc.AllPages(ctx, ff.filters(cmd), pageSize)
			}
			return finishImport(ctx, a, entry, err)
		},
	}
	ff.register(cmd)
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Rows per page (default: SYNC_PAGE_SIZE)")
	return cmd
}

func newSyncResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <import-id>",
		Short: "Continue a paused or failed all-pages import from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			entry, err := a.syncService(ctx).Resume(ctx, id)
			return finishImport(ctx, a, entry, err)
		},
	}
}

func newSyncStopCmd(verb string, status internal.ImportStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <import-id>",
		Short: fmt.Sprintf("Ask an import to %s at its next checkpoint", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			svc := a.syncService(cmd.Context())
			if status == internal.ImportPaused {
				err = svc.Pause(cmd.Context(), id)
			} else {
				err = svc.Cancel(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s requested for import %d\n", verb, id)
			return nil
		},
	}
}

func newSyncLogsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.db.ListImportLogs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println(gray("no imports yet"))
				return nil
			}
			for i := range logs {
				printImportLog(&logs[i])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to list")
	return cmd
}

func newSyncErrorsCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "errors <import-id>",
		Short: "Write the recorded row errors of an import to an XLSX workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			entry, err := a.db.GetImportLog(cmd.Context(), id)
			if err != nil {
				return err
			}
			if strings.TrimSpace(out) == "" {
				out = filepath.Join(a.cfg.OutputDir, fmt.Sprintf("import_%d_errors.xlsx", id))
			}
			if err := pipeline.ExportImportErrorsXLSX(entry, out); err != nil {
				return err
			}
			fmt.Printf("exported %d errors to %s\n", len(entry.Errors), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output xlsx path")
	return cmd
}

func newImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import journals from a JSON export file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return fmt.Errorf("--file is required")
			}
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			entry, err := a.syncService(ctx).ImportFile(ctx, file)
			return finishImport(ctx, a, entry, err)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a JSON array or object of journal rows")
	return cmd
}

func newListenCmd() *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Periodically import the first page of the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			// The listener runs until interrupted; a pause only ends the current cycle.
			svc := a.syncService(ctx)
			svc.Stop = nil
			var reporter listener.Reporter
			if a.mailer != nil {
				reporter = a.mailer
			}
			return listener.NewService(svc, reporter, ff.filters(cmd), a.cfg, a.log).Run(listenContext(ctx))
		},
	}
	ff.register(cmd)
	return cmd
}

// listenContext ends on the first interrupt, since the listener has no
// checkpoint to pause at.
func listenContext(ctx context.Context) context.Context {
	stop, ok := stopperFrom(ctx).(*internal.Stopper)
	if !ok {
		return ctx
	}
	out, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		tick := time.NewTicker(250 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-out.Done():
				return
			case <-tick.C:
				if stop.Stopped() != nil {
					return
				}
			}
		}
	}()
	return out
}

func finishImport(ctx context.Context, a *app, entry *storage.ImportLog, runErr error) error {
	if entry == nil {
		return runErr
	}
	printImportLog(entry)
	a.report(ctx, notify.Report{
		Run:     "sync",
		ID:      entry.ID,
		Status:  string(entry.Status),
		Stats:   entry.Stats,
		Message: entry.ResultMessage,
		Error:   entry.ErrorMessage,
	})
	if entry.CanResume() {
		fmt.Printf("  resume with: journalsync sync resume %d\n", entry.ID)
	}
	return runErr
}

func printImportLog(l *storage.ImportLog) {
	fmt.Printf("%s %s %s", cyan(fmt.Sprintf("import %d", l.ID)), gray(string(l.Mode)), statusColor(string(l.Status)))
	if l.TotalRecords > 0 {
		fmt.Printf("  %d/%d", l.Processed, l.TotalRecords)
	}
	if l.CurrentPage > 0 && l.Status != internal.ImportCompleted {
		fmt.Printf("  %s", gray(fmt.Sprintf("page %d offset %d", l.CurrentPage, l.PageOffset)))
	}
	fmt.Println()
	printStats(l.Stats)
	if l.ErrorMessage != "" {
		fmt.Printf("  %s\n", red(l.ErrorMessage))
	}
}
