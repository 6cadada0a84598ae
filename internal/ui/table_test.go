package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/abhiyant/inspect/internal/record"
)

func TestWriteRecordTable(t *testing.T) {
	var buf bytes.Buffer
	WriteRecordTable(&buf, nil)
	if !strings.Contains(buf.String(), "No inspections found") {
		t.Errorf("empty table = %q", buf.String())
	}

	buf.Reset()
	WriteRecordTable(&buf, []record.InspectionRecord{{
		ID:             7,
		ComponentName:  "A very long component name that will not fit",
		InspectionDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		InspectorName:  "K",
		Status:         record.StatusPassed,
	}})
	out := buf.String()
	for _, want := range []string{"2024-03-01", "PASSED", "…", "K"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRecordDetail(t *testing.T) {
	var buf bytes.Buffer
	WriteRecordDetail(&buf, &record.InspectionRecord{
		ID:            3,
		ComponentName: "Hub",
		InspectorName: "K",
		VernierWidth:  record.Float(4.5),
		Status:        record.StatusNeedsRework,
	})
	out := buf.String()
	for _, want := range []string{"#3", "Hub", "Vernier width", "4.5", "not yet"} {
		if !strings.Contains(out, want) {
			t.Errorf("detail missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Vernier length") {
		t.Errorf("detail shows absent measurement:\n%s", out)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abc", 5); got != "abc" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdef", 4); got != "abc…" {
		t.Errorf("truncate long = %q", got)
	}
}
