package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/abhiyant/inspect/internal/record"
)

// measurementFlags maps flag names to measurement fields.
var measurementFlags = []struct {
	flag  string
	field func(*record.InspectionRecord) **float64
}{
	{"vernier-length", func(r *record.InspectionRecord) **float64 { return &r.VernierLength }},
	{"vernier-width", func(r *record.InspectionRecord) **float64 { return &r.VernierWidth }},
	{"vernier-height", func(r *record.InspectionRecord) **float64 { return &r.VernierHeight }},
	{"vernier-diameter", func(r *record.InspectionRecord) **float64 { return &r.VernierDiameter }},
	{"micrometer-thickness", func(r *record.InspectionRecord) **float64 { return &r.MicrometerThickness }},
	{"micrometer-od", func(r *record.InspectionRecord) **float64 { return &r.MicrometerOuterDiameter }},
	{"micrometer-id", func(r *record.InspectionRecord) **float64 { return &r.MicrometerInnerDiameter }},
	{"height-master", func(r *record.InspectionRecord) **float64 { return &r.HeightMasterMeasurement }},
}

// registerRecordFlags adds a flag for every editable record field.
func registerRecordFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("component", "", "component name")
	f.String("part", "", "component part number")
	f.String("inspector", "", "inspector name")
	f.String("batch", "", "batch number")
	f.String("serial", "", "serial number")
	f.String("status", "", "status: pending, passed, failed, needs-rework")
	f.String("date", "", `inspection date ("2024-03-01", "yesterday 14:00", "last friday")`)
	f.String("additional", "", "free-form additional measurements")
	f.String("notes", "", "notes")
	f.String("remarks", "", "remarks")
	for _, m := range measurementFlags {
		f.String(m.flag, "", "measurement value (empty clears it)")
	}
}

// applyRecordFlags copies every flag the user set onto rec.
func applyRecordFlags(cmd *cobra.Command, rec *record.InspectionRecord) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("component", &rec.ComponentName)
	str("part", &rec.ComponentPartNumber)
	str("inspector", &rec.InspectorName)
	str("batch", &rec.BatchNumber)
	str("serial", &rec.SerialNumber)
	str("additional", &rec.AdditionalMeasurements)
	str("notes", &rec.Notes)
	str("remarks", &rec.Remarks)

	if f.Changed("status") {
		raw, _ := f.GetString("status")
		st, err := record.ParseStatus(raw)
		if err != nil {
			return err
		}
		rec.Status = st
	}

	if f.Changed("date") {
		raw, _ := f.GetString("date")
		t, err := parseDate(raw, time.Now())
		if err != nil {
			return err
		}
		rec.InspectionDate = t
	}

	for _, m := range measurementFlags {
		if !f.Changed(m.flag) {
			continue
		}
		raw, _ := f.GetString(m.flag)
		v, err := parseMeasurement(raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", m.flag, err)
		}
		*m.field(rec) = v
	}
	return nil
}

// parseMeasurement parses a reading. Blank clears it.
func parseMeasurement(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("invalid measurement %q", raw)
	}
	return &v, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

// parseDate accepts an absolute date or a natural-language expression
// relative to base.
func parseDate(raw string, base time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, base.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(raw, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %q: %w", raw, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
	}
	return r.Time, nil
}
