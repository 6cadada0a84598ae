package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abhiyant/inspect/internal/record"
	"github.com/abhiyant/inspect/internal/store"
	"github.com/abhiyant/inspect/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "records",
	Short:   "Record a new inspection",
	Long: `Record a new inspection in the local database.

Fields come from flags, from a record file (--from, .json/.yaml/.toml), or
from an interactive form (--interactive). Flags override file values.

Examples:
  inspect add --component Shaft --part ACME-100 --inspector "R. Iyer" --vernier-length 120.25
  inspect add --from gauge-01.yaml --status passed
  inspect add --interactive`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		rec := &record.InspectionRecord{}

		if from, _ := cmd.Flags().GetString("from"); from != "" {
			fromFile, err := record.ReadFile(from)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			rec = fromFile
			rec.ID = 0
		}
		if err := applyRecordFlags(cmd, rec); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if !ui.IsInteractive() {
				fmt.Fprintf(os.Stderr, "Error: --interactive needs a terminal\n")
				os.Exit(1)
			}
			if err := runRecordForm(rec); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		a := mustOpenApp(ctx, appOptions{quiet: true})
		defer a.Close()

		id, err := a.svc.Create(ctx, rec)
		if err != nil {
			a.fatalf("%v", err)
		}
		fmt.Printf("%s Recorded inspection %s (%s)\n", ui.RenderPass("✓"), ui.RenderAccent(fmt.Sprintf("#%d", id)), rec.ComponentName)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "records",
	Short:   "List inspections, newest first",
	Long: `List inspections from the local database, newest inspection first.

--search matches component name, part number, batch and serial number
(case-insensitive). --watch keeps the list open and redraws it whenever a
matching record changes.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		q, err := queryFromFlags(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{quiet: true})
		defer a.Close()

		if watch, _ := cmd.Flags().GetBool("watch"); !watch {
			recs, err := a.svc.Snapshot(ctx, q)
			if err != nil {
				a.fatalf("%v", err)
			}
			ui.WriteRecordTable(os.Stdout, recs)
			return
		}

		ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		sub, err := a.svc.Watch(ctx, q)
		if err != nil {
			a.fatalf("%v", err)
		}
		defer sub.Close()

		redraw := ui.IsTerminal()
		for snapshot := range sub.C() {
			if redraw {
				fmt.Print("\033[H\033[2J")
			}
			ui.WriteRecordTable(os.Stdout, snapshot)
			fmt.Println(ui.RenderMuted("\nWatching for changes, Ctrl+C to stop"))
		}
	},
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	GroupID: "records",
	Short:   "Show one inspection",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := mustParseID(args[0])
		format, _ := cmd.Flags().GetString("format")

		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{quiet: true})
		defer a.Close()

		rec, err := a.svc.GetByID(ctx, id)
		if err != nil {
			a.fatalf("%v", err)
		}
		if rec == nil {
			a.fatalf("%v", &record.NotFoundError{ID: id})
		}

		if format == "" || format == "text" {
			ui.WriteRecordDetail(os.Stdout, rec)
			return
		}
		data, err := record.Encode(rec, format)
		if err != nil {
			a.fatalf("%v", err)
		}
		os.Stdout.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Println()
		}
	},
}

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	GroupID: "records",
	Short:   "Change fields of an inspection",
	Long: `Change fields of an existing inspection. Only the flags you pass are
changed; --interactive opens the form prefilled with the current values.

The record is marked unsynced and will be uploaded by the next sync.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := mustParseID(args[0])

		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{quiet: true})
		defer a.Close()

		rec, err := a.svc.GetByID(ctx, id)
		if err != nil {
			a.fatalf("%v", err)
		}
		if rec == nil {
			a.fatalf("%v", &record.NotFoundError{ID: id})
		}

		if err := applyRecordFlags(cmd, rec); err != nil {
			a.fatalf("%v", err)
		}
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if !ui.IsInteractive() {
				a.fatalf("--interactive needs a terminal")
			}
			if err := runRecordForm(rec); err != nil {
				a.fatalf("%v", err)
			}
		}

		if _, err := a.svc.Save(ctx, rec); err != nil {
			a.fatalf("%v", err)
		}
		fmt.Printf("%s Updated inspection %s\n", ui.RenderPass("✓"), ui.RenderAccent(fmt.Sprintf("#%d", id)))
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	GroupID: "records",
	Short:   "Delete an inspection",
	Long: `Delete an inspection from the local database. The archived copy is kept
unless --remote is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id := mustParseID(args[0])
		remote, _ := cmd.Flags().GetBool("remote")

		ctx := cmd.Context()
		a := mustOpenApp(ctx, appOptions{remote: remote, quiet: true})
		defer a.Close()

		if err := a.svc.Delete(ctx, id); err != nil {
			a.fatalf("%v", err)
		}
		fmt.Printf("%s Deleted inspection %s locally\n", ui.RenderPass("✓"), ui.RenderAccent(fmt.Sprintf("#%d", id)))

		if remote {
			if err := a.svc.DeleteRemote(ctx, id); err != nil {
				a.fatalf("%v", err)
			}
			fmt.Printf("%s Deleted archived copy\n", ui.RenderPass("✓"))
		}
	},
}

func queryFromFlags(cmd *cobra.Command) (store.Query, error) {
	var q store.Query
	q.Text, _ = cmd.Flags().GetString("search")
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		st, err := record.ParseStatus(raw)
		if err != nil {
			return q, err
		}
		q.Status = st
	}
	return q, nil
}

func mustParseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: invalid inspection id %q\n", s)
		os.Exit(1)
	}
	return id
}

func init() {
	registerRecordFlags(addCmd)
	addCmd.Flags().String("from", "", "read the record from a .json, .yaml or .toml file")
	addCmd.Flags().BoolP("interactive", "i", false, "fill in the record with a form")

	listCmd.Flags().StringP("search", "s", "", "filter by component, part, batch or serial")
	listCmd.Flags().String("status", "", "filter by status")
	listCmd.Flags().BoolP("watch", "w", false, "keep the list open and redraw on changes")

	showCmd.Flags().StringP("format", "f", "text", "output format: text, json, yaml, toml")

	registerRecordFlags(editCmd)
	editCmd.Flags().BoolP("interactive", "i", false, "edit the record with a form")

	deleteCmd.Flags().Bool("remote", false, "also delete the archived copy")

	rootCmd.AddCommand(addCmd, listCmd, showCmd, editCmd, deleteCmd)
}
