package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhiyant/inspect/internal/report"
	syncer "github.com/abhiyant/inspect/internal/sync"
	"github.com/abhiyant/inspect/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Upload unsynced inspections to the remote archive",
	Long: `Upload every inspection that has not been archived yet.

Records are uploaded according to the sync policy in the config file
(sync.batch_size, sync.max_retries, sync.retry_backoff, sync.rate_limit).
Records are marked synced only after the archive accepts them.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{remote: true, quiet: true})
		defer a.Close()

		pending, err := a.store.UnsyncedCount(ctx)
		if err != nil {
			a.fatalf("%v", err)
		}
		if pending > 0 {
			fmt.Printf("%s Syncing %d inspection(s)...\n", ui.RenderAccent("↑"), pending)
		}

		start := time.Now()
		status, err := a.svc.SyncNow(ctx)
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			a.fatalf("another sync is already running")
		case err != nil:
			a.fatalf("%s", status.Message)
		}
		fmt.Printf("%s %s (%v)\n", ui.RenderPass("✓"), status.Message, time.Since(start).Round(time.Millisecond))
	},
}

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "List the inspections held by the remote archive",
	Long: `Fetch every inspection from the remote archive, newest first.

The local database is not changed. Documents the archive holds in an
unreadable form are skipped and logged.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{remote: true, quiet: true})
		defer a.Close()

		recs, err := a.svc.FetchRemote(ctx)
		if err != nil {
			a.fatalf("%v", err)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(recs); err != nil {
				a.fatalf("%v", err)
			}
			return
		}
		ui.WriteRecordTable(os.Stdout, recs)
	},
}

var exportCmd = &cobra.Command{
	Use:     "export <file.xlsx>",
	GroupID: "records",
	Short:   "Export inspections to an Excel workbook",
	Long: `Write inspections to an Excel workbook with one row per inspection and a
summary sheet. Use "-" to write the workbook to stdout.

--search and --status select which inspections are exported.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q, err := queryFromFlags(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{quiet: true})
		defer a.Close()

		recs, err := a.svc.Snapshot(ctx, q)
		if err != nil {
			a.fatalf("%v", err)
		}

		if args[0] == "-" {
			if err := report.Write(os.Stdout, recs, time.Now()); err != nil {
				a.fatalf("%v", err)
			}
			return
		}
		if err := report.SaveAs(args[0], recs, time.Now()); err != nil {
			a.fatalf("%v", err)
		}
		fmt.Printf("%s Exported %d inspection(s) to %s\n", ui.RenderPass("✓"), len(recs), args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show how many inspections are waiting to be synced",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{quiet: true})
		defer a.Close()

		total, err := a.store.Count(ctx)
		if err != nil {
			a.fatalf("%v", err)
		}
		pending, err := a.store.UnsyncedCount(ctx)
		if err != nil {
			a.fatalf("%v", err)
		}

		fmt.Printf("\n%s Local database: %s\n", ui.RenderAccent("●"), a.store.Path())
		fmt.Printf("   Inspections: %d\n", total)
		if pending == 0 {
			fmt.Printf("   %s All inspections are synced\n\n", ui.RenderPass("✓"))
			return
		}
		fmt.Printf("   %s %d waiting for sync\n", ui.RenderWarn("⚠"), pending)
		fmt.Printf("   Backend: %s (run 'inspect sync')\n\n", cfg.Remote.Backend)
	},
}

func init() {
	pullCmd.Flags().Bool("json", false, "print records as JSON")

	exportCmd.Flags().StringP("search", "s", "", "filter by component, part, batch or serial")
	exportCmd.Flags().String("status", "", "filter by status")

	rootCmd.AddCommand(syncCmd, pullCmd, exportCmd, statusCmd)
}
