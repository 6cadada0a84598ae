package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/abhiyant/inspect/internal/record"
)

const dateLayout = "2006-01-02"

// WriteRecordTable prints one line per record: sync marker, id, status,
// date, component, part number and inspector.
func WriteRecordTable(w io.Writer, recs []record.InspectionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, RenderMuted("No inspections found"))
		return
	}

	header := fmt.Sprintf("  %-6s %-12s %-10s %-24s %-14s %s", "ID", "STATUS", "DATE", "COMPONENT", "PART", "INSPECTOR")
	fmt.Fprintln(w, RenderBold(header))
	for i := range recs {
		r := &recs[i]
		fmt.Fprintf(w, "%s %-6d %s %-10s %-24s %-14s %s\n",
			RenderSynced(r.IsSynced),
			r.ID,
			pad(RenderStatus(r.Status), 12),
			r.InspectionDate.Format(dateLayout),
			truncate(r.ComponentName, 24),
			truncate(r.ComponentPartNumber, 14),
			r.InspectorName,
		)
	}
}

// WriteRecordDetail prints every populated field of rec.
func WriteRecordDetail(w io.Writer, rec *record.InspectionRecord) {
	fmt.Fprintf(w, "%s %s\n", RenderAccent(fmt.Sprintf("#%d", rec.ID)), RenderBold(rec.ComponentName))
	row := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(w, "  %-22s %s\n", RenderMuted(label+":"), value)
	}

	row("Status", RenderStatus(rec.Status))
	row("Part number", rec.ComponentPartNumber)
	row("Inspection date", rec.InspectionDate.Format("2006-01-02 15:04"))
	row("Inspector", rec.InspectorName)
	row("Batch", rec.BatchNumber)
	row("Serial", rec.SerialNumber)
	for _, m := range rec.Measurements() {
		if m.Value != nil {
			row(m.Label, fmt.Sprintf("%g", *m.Value))
		}
	}
	row("Additional", rec.AdditionalMeasurements)
	row("Notes", rec.Notes)
	row("Remarks", rec.Remarks)
	if rec.IsSynced && rec.CloudSyncTimestamp != nil {
		row("Synced", RenderPass(rec.CloudSyncTimestamp.Format("2006-01-02 15:04")))
	} else {
		row("Synced", RenderWarn("not yet"))
	}
}

// pad right-pads a styled string to width visible cells.
func pad(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
