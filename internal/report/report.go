// Package report renders inspection records as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/abhiyant/inspect/internal/record"
)

// Sheet names in the generated workbook.
const (
	SheetInspections = "Inspections"
	SheetSummary     = "Summary"
)

const dateLayout = "2006-01-02 15:04"

// columns lists the fixed leading columns; measurements follow them.
var columns = []string{
	"ID", "Component", "Part Number", "Inspection Date", "Inspector",
	"Batch", "Serial", "Status", "Synced", "Cloud Sync Time",
}

// statusColumn is the 1-based position of "Status" in columns.
const statusColumn = 8

// trailing columns after the measurements.
var trailing = []string{"Additional Measurements", "Notes", "Remarks"}

// statusFills colours the status cell.
var statusFills = map[record.Status]string{
	record.StatusPassed:      "#C6EFCE",
	record.StatusFailed:      "#FFC7CE",
	record.StatusNeedsRework: "#FFEB9C",
}

// Write renders recs as an .xlsx workbook to w. generatedAt is printed on
// the summary sheet.
func Write(w io.Writer, recs []record.InspectionRecord, generatedAt time.Time) error {
	f, err := Build(recs, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveAs renders recs and saves the workbook at path.
func SaveAs(path string, recs []record.InspectionRecord, generatedAt time.Time) error {
	f, err := Build(recs, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// Build creates the workbook. The caller closes it.
func Build(recs []record.InspectionRecord, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	// NewFile starts with Sheet1; rename it rather than leave it empty.
	if err := f.SetSheetName(f.GetSheetName(0), SheetInspections); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeInspections(f, recs); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSummary(f, recs, generatedAt); err != nil {
		f.Close()
		return nil, err
	}
	f.SetActiveSheet(0)
	return f, nil
}

func headers() []string {
	var m record.InspectionRecord
	out := append([]string{}, columns...)
	for _, meas := range m.Measurements() {
		out = append(out, meas.Label)
	}
	return append(out, trailing...)
}

func writeInspections(f *excelize.File, recs []record.InspectionRecord) error {
	hdr := headers()
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	numberStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2}) // 0.00
	if err != nil {
		return fmt.Errorf("failed to create number style: %w", err)
	}
	statusStyles := make(map[record.Status]int, len(statusFills))
	for st, color := range statusFills {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		})
		if err != nil {
			return fmt.Errorf("failed to create status style: %w", err)
		}
		statusStyles[st] = id
	}

	row := make([]any, len(hdr))
	for i, h := range hdr {
		row[i] = h
	}
	if err := f.SetSheetRow(SheetInspections, "A1", &row); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.ColumnNumberToName(len(hdr))
	if err := f.SetCellStyle(SheetInspections, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	firstMeasure := len(columns) + 1
	lastMeasure := len(hdr) - len(trailing)
	statusCol, _ := excelize.ColumnNumberToName(statusColumn)

	for i := range recs {
		r := &recs[i]
		rowNum := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, rowNum)
		values := rowValues(r)
		if err := f.SetSheetRow(SheetInspections, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", rowNum, err)
		}
		if id, ok := statusStyles[r.Status]; ok {
			ref := fmt.Sprintf("%s%d", statusCol, rowNum)
			if err := f.SetCellStyle(SheetInspections, ref, ref, id); err != nil {
				return fmt.Errorf("failed to style status: %w", err)
			}
		}
	}

	if len(recs) > 0 {
		from, _ := excelize.CoordinatesToCellName(firstMeasure, 2)
		to, _ := excelize.CoordinatesToCellName(lastMeasure, len(recs)+1)
		if err := f.SetCellStyle(SheetInspections, from, to, numberStyle); err != nil {
			return fmt.Errorf("failed to style measurements: %w", err)
		}
	}

	if err := f.SetColWidth(SheetInspections, "A", last, 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetPanes(SheetInspections, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	if err := f.AutoFilter(SheetInspections, fmt.Sprintf("A1:%s%d", last, len(recs)+1), nil); err != nil {
		return fmt.Errorf("failed to add filter: %w", err)
	}
	return nil
}

func rowValues(r *record.InspectionRecord) []any {
	var syncTime any
	if r.CloudSyncTimestamp != nil {
		syncTime = r.CloudSyncTimestamp.Format(dateLayout)
	}
	synced := "No"
	if r.IsSynced {
		synced = "Yes"
	}

	out := []any{
		r.ID, r.ComponentName, r.ComponentPartNumber, r.InspectionDate.Format(dateLayout),
		r.InspectorName, r.BatchNumber, r.SerialNumber, string(r.Status), synced, syncTime,
	}
	for _, m := range r.Measurements() {
		if m.Value == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, *m.Value)
	}
	return append(out, r.AdditionalMeasurements, r.Notes, r.Remarks)
}

func writeSummary(f *excelize.File, recs []record.InspectionRecord, generatedAt time.Time) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	counts := make(map[record.Status]int)
	unsynced := 0
	for i := range recs {
		counts[recs[i].Status]++
		if !recs[i].IsSynced {
			unsynced++
		}
	}

	rows := [][]any{
		{"Generated", generatedAt.Format(dateLayout)},
		{"Total inspections", len(recs)},
		{"Not yet synced", unsynced},
		{},
		{"Status", "Count"},
	}
	for _, st := range []record.Status{record.StatusPending, record.StatusPassed, record.StatusFailed, record.StatusNeedsRework} {
		rows = append(rows, []any{string(st), counts[st]})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return f.SetColWidth(SheetSummary, "A", "B", 22)
}
