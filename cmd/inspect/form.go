package main

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/abhiyant/inspect/internal/record"
)

// runRecordForm prompts for a record's fields, starting from rec's values.
func runRecordForm(rec *record.InspectionRecord) error {
	status := string(rec.Status)
	if status == "" {
		status = string(record.StatusPending)
	}
	date := ""
	if !rec.InspectionDate.IsZero() {
		date = rec.InspectionDate.Format("2006-01-02 15:04")
	}

	measurements := make([]string, len(measurementFlags))
	for i, m := range measurementFlags {
		if v := *m.field(rec); v != nil {
			measurements[i] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}

	required := func(label string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New(label + " is required")
			}
			return nil
		}
	}
	validDate := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return nil
		}
		_, err := parseDate(s, time.Now())
		return err
	}
	validMeasurement := func(s string) error {
		_, err := parseMeasurement(s)
		return err
	}

	measureFields := make([]huh.Field, len(measurementFlags))
	for i, m := range measurementFlags {
		measureFields[i] = huh.NewInput().
			Title(m.flag).
			Value(&measurements[i]).
			Validate(validMeasurement)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Component").Value(&rec.ComponentName).Validate(required("component")),
			huh.NewInput().Title("Part number").Value(&rec.ComponentPartNumber),
			huh.NewInput().Title("Inspector").Value(&rec.InspectorName).Validate(required("inspector")),
			huh.NewInput().Title("Inspection date").Description("blank for now; natural language accepted").Value(&date).Validate(validDate),
			huh.NewInput().Title("Batch number").Value(&rec.BatchNumber),
			huh.NewInput().Title("Serial number").Value(&rec.SerialNumber),
			huh.NewSelect[string]().
				Title("Status").
				Options(
					huh.NewOption("Pending", string(record.StatusPending)),
					huh.NewOption("Passed", string(record.StatusPassed)),
					huh.NewOption("Failed", string(record.StatusFailed)),
					huh.NewOption("Needs rework", string(record.StatusNeedsRework)),
				).
				Value(&status),
		).Title("Inspection"),
		huh.NewGroup(measureFields...).Title("Measurements"),
		huh.NewGroup(
			huh.NewText().Title("Additional measurements").Value(&rec.AdditionalMeasurements),
			huh.NewText().Title("Notes").Value(&rec.Notes),
			huh.NewText().Title("Remarks").Value(&rec.Remarks),
		).Title("Notes"),
	)
	if err := form.Run(); err != nil {
		return err
	}

	rec.Status = record.Status(status)
	if strings.TrimSpace(date) != "" {
		t, err := parseDate(date, time.Now())
		if err != nil {
			return err
		}
		rec.InspectionDate = t
	}
	for i, m := range measurementFlags {
		v, err := parseMeasurement(measurements[i])
		if err != nil {
			return err
		}
		*m.field(rec) = v
	}
	return nil
}
