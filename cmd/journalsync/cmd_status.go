package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest analysis, recent imports and catalog size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(true)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			fmt.Printf("\n%s\n", cyan("=== journalsync status ==="))
			n, err := a.store.CountLocal(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("category %s: %d journals\n", a.store.Category(), n)
			for _, mode := range []string{"first_page", "all_pages", "file"} {
				last, err := a.db.GetMetadata("sync.last_completed." + mode)
				if err != nil {
					return err
				}
				if last != nil {
					fmt.Printf("  last %s sync: %s\n", mode, gray(*last))
				}
			}

			latest, err := a.db.LatestAnalysis(ctx, a.store.Category())
			if err != nil {
				return err
			}
			if latest == nil {
				fmt.Printf("\n%s\n", gray("no analysis yet"))
			} else {
				printAnalysis(latest)
			}

			logs, err := a.db.ListImportLogs(ctx, 5)
			if err != nil {
				return err
			}
			if len(logs) > 0 {
				fmt.Printf("\n%s\n", yellow("Recent imports:"))
				for i := range logs {
					printImportLog(&logs[i])
				}
			}
			return nil
		},
	}
}
