package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"journalsync/internal"
	"journalsync/internal/notify"
	"journalsync/internal/pipeline"
	"journalsync/internal/storage"
)

func newAnalyzeCmd() *cobra.Command {
	var ff filterFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Match local journals against the API catalog by title",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline(cmd.Context()).Analyze(cmd.Context(), ff.filters(cmd))
			if res != nil {
				printAnalysis(res)
			}
			return err
		},
	}
	ff.register(cmd)
	return cmd
}

func newApplyCmd() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "apply [analysis-id]",
		Short: "Apply the action plan of a completed analysis (defaults to the latest)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id, err := analysisID(ctx, a, args)
			if err != nil {
				return err
			}
			res, runErr := a.pipeline(ctx).Apply(ctx, id, resume)
			if res == nil {
				return runErr
			}
			printAnalysis(res)
			a.report(ctx, notify.Report{
				Run:     "apply",
				ID:      res.ID,
				Status:  string(res.ApplyStatus),
				Stats:   res.ApplyStats,
				Message: res.ProgressMessage,
				Error:   res.ApplyError,
			})
			return runErr
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "Continue a paused or failed apply from its checkpoint")
	cmd.AddCommand(newApplyCancelCmd())
	return cmd
}

func newApplyCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <analysis-id>",
		Short: "Cancel a running apply, or reset a paused or failed one to not applied",
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

			ok, err := a.pipeline(cmd.Context()).CancelApply(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("analysis %d has no apply to cancel", id)
			}
			fmt.Printf("apply cancelled for analysis %d\n", id)
			return nil
		},
	}
}

func newPauseCmd() *cobra.Command {
	var apply bool
	cmd := &cobra.Command{
		Use:   "pause <analysis-id>",
		Short: "Ask a running analysis (or its apply) to pause at the next checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc := a.pipeline(cmd.Context())
			var ok bool
			if apply {
				ok, err = svc.PauseApply(cmd.Context(), id)
			} else {
				ok, err = svc.PauseAnalysis(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("analysis %d has nothing running to pause", id)
			}
			fmt.Printf("pause requested for analysis %d\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Pause the apply instead of the analysis")
	return cmd
}

func newAnalysisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Inspect analysis results",
	}
	cmd.AddCommand(newAnalysisDetailsCmd())
	cmd.AddCommand(newAnalysisExportCmd())
	return cmd
}

func newAnalysisDetailsCmd() *cobra.Command {
	var (
		category string
		page     int
		perPage  int
	)
	cmd := &cobra.Command{
		Use:   "details [analysis-id]",
		Short: "Page through the entries of one match category",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, ok := internal.ParseCategory(category)
			if !ok {
				return fmt.Errorf("unknown category %q", category)
			}
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id, err := analysisID(ctx, a, args)
			if err != nil {
				return err
			}
			res, err := a.pipeline(ctx).Details(ctx, id, cat, page, perPage)
			if err != nil {
				return err
			}

			fmt.Printf("%s page %d/%d (%d entries)\n", cyan(res.Category), res.Page, res.TotalPages, res.Total)
			for _, e := range res.Items {
				fmt.Printf("  %s\n", e.NormalizedTitle)
				for _, l := range e.Local {
					fmt.Printf("    local    %d  %s\n", l.ID, l.Title)
				}
				for _, x := range e.External {
					fmt.Printf("    external %s  %s %s\n", x.ExternalID, x.CanonicalName, gray(x.ISSNL))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", string(internal.CategoryExact1to1), "Match category")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&perPage, "per-page", 50, "Entries per page")
	return cmd
}

func newAnalysisExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [analysis-id]",
		Short: "Write an analysis to an XLSX workbook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			id, err := analysisID(ctx, a, args)
			if err != nil {
				return err
			}
			res, err := a.db.MustAnalysis(ctx, id)
			if err != nil {
				return err
			}
			result, err := a.db.AnalysisResult(ctx, id)
			if err != nil {
				return err
			}
			if strings.TrimSpace(out) == "" {
				out = filepath.Join(a.cfg.OutputDir, fmt.Sprintf("analysis_%d.xlsx", id))
			}
			if err := pipeline.ExportAnalysisXLSX(res, result, out); err != nil {
				return err
			}
			fmt.Printf("exported analysis %d to %s\n", id, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output xlsx path (default: OUTPUT_DIR/analysis_<id>.xlsx)")
	return cmd
}

// analysisID takes the explicit id argument or falls back to the latest
// analysis of the configured category.
func analysisID(ctx context.Context, a *app, args []string) (int64, error) {
	if len(args) == 1 {
		return parseID(args[0])
	}
	latest, err := a.db.LatestAnalysis(ctx, a.store.Category())
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, fmt.Errorf("no analysis for category %q, run analyze first", a.store.Category())
	}
	return latest.ID, nil
}

func printAnalysis(a *storage.Analysis) {
	fmt.Printf("\n%s\n", cyan(fmt.Sprintf("analysis %d (%s)", a.ID, a.Category)))
	fmt.Printf("  status: %s", statusColor(string(a.Status)))
	if a.ErrorMessage != "" {
		fmt.Printf("  %s", red(a.ErrorMessage))
	}
	fmt.Println()
	if a.Status == internal.AnalysisCompleted {
		fmt.Printf("  local %d, external %d\n", a.LocalTotal, a.ExternalTotal)
		for _, c := range internal.AllCategories {
			fmt.Printf("  %-24s %d\n", c, a.Counts[c])
		}
	}
	fmt.Printf("  apply: %s", statusColor(string(a.ApplyStatus)))
	if a.ApplyCheckpoint != nil {
		fmt.Printf("  %s", gray(fmt.Sprintf("checkpoint %s@%d", a.ApplyCheckpoint.Phase, a.ApplyCheckpoint.Offset)))
	}
	if a.ApplyError != "" {
		fmt.Printf("  %s", red(a.ApplyError))
	}
	fmt.Println()
	if a.ApplyStatus != internal.ApplyNotApplied {
		printStats(a.ApplyStats)
	}
}
