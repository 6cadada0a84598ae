// Package record defines the inspection record, its status enum, the error kinds
// shared by the store and the archive, and the flat document codec used on the wire.
package record

import (
	"math"
	"strings"
	"time"
)

// Status is the outcome of an inspection.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusPassed      Status = "PASSED"
	StatusFailed      Status = "FAILED"
	StatusNeedsRework Status = "NEEDS_REWORK"
)

// Statuses lists every valid status in display order.
var Statuses = []Status{StatusPending, StatusPassed, StatusFailed, StatusNeedsRework}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPassed, StatusFailed, StatusNeedsRework:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// ParseStatus validates user input. Names are matched case-insensitively and
// spaces or dashes may stand in for the underscore ("needs rework").
// Anything else is rejected with a ValidationError.
func ParseStatus(s string) (Status, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	st := Status(norm)
	if !st.Valid() {
		return "", &ValidationError{Field: "status", Reason: "unknown status " + strings.TrimSpace(s)}
	}
	return st, nil
}

// StatusFromWire is the lenient decoder used for remote documents: anything
// that does not name a known status becomes PENDING.
func StatusFromWire(s string) Status {
	st := Status(s)
	if !st.Valid() {
		return StatusPending
	}
	return st
}

// InspectionRecord is one set of dimensional measurements for a component.
// Measurements are in millimetres; a nil pointer means the reading was not taken.
type InspectionRecord struct {
	// ===== Identification =====
	ID                  int64     `json:"id" yaml:"id" toml:"id"`
	ComponentName       string    `json:"componentName" yaml:"componentName" toml:"componentName"`
	ComponentPartNumber string    `json:"componentPartNumber,omitempty" yaml:"componentPartNumber,omitempty" toml:"componentPartNumber,omitempty"`
	InspectionDate      time.Time `json:"inspectionDate" yaml:"inspectionDate" toml:"inspectionDate"`
	InspectorName       string    `json:"inspectorName" yaml:"inspectorName" toml:"inspectorName"`
	BatchNumber         string    `json:"batchNumber,omitempty" yaml:"batchNumber,omitempty" toml:"batchNumber,omitempty"`
	SerialNumber        string    `json:"serialNumber,omitempty" yaml:"serialNumber,omitempty" toml:"serialNumber,omitempty"`

	// ===== Vernier =====
	VernierLength   *float64 `json:"vernierLength,omitempty" yaml:"vernierLength,omitempty" toml:"vernierLength,omitempty"`
	VernierWidth    *float64 `json:"vernierWidth,omitempty" yaml:"vernierWidth,omitempty" toml:"vernierWidth,omitempty"`
	VernierHeight   *float64 `json:"vernierHeight,omitempty" yaml:"vernierHeight,omitempty" toml:"vernierHeight,omitempty"`
	VernierDiameter *float64 `json:"vernierDiameter,omitempty" yaml:"vernierDiameter,omitempty" toml:"vernierDiameter,omitempty"`

	// ===== Micrometer =====
	MicrometerThickness     *float64 `json:"micrometerThickness,omitempty" yaml:"micrometerThickness,omitempty" toml:"micrometerThickness,omitempty"`
	MicrometerOuterDiameter *float64 `json:"micrometerOuterDiameter,omitempty" yaml:"micrometerOuterDiameter,omitempty" toml:"micrometerOuterDiameter,omitempty"`
	MicrometerInnerDiameter *float64 `json:"micrometerInnerDiameter,omitempty" yaml:"micrometerInnerDiameter,omitempty" toml:"micrometerInnerDiameter,omitempty"`

	// ===== Height master =====
	HeightMasterMeasurement *float64 `json:"heightMasterMeasurement,omitempty" yaml:"heightMasterMeasurement,omitempty" toml:"heightMasterMeasurement,omitempty"`

	// AdditionalMeasurements is an opaque payload for other instruments.
	AdditionalMeasurements string `json:"additionalMeasurements,omitempty" yaml:"additionalMeasurements,omitempty" toml:"additionalMeasurements,omitempty"`

	Status Status `json:"status" yaml:"status" toml:"status"`

	// ===== Sync state (owned by the store and the sync coordinator) =====
	IsSynced           bool       `json:"isSynced" yaml:"isSynced" toml:"isSynced"`
	CloudSyncTimestamp *time.Time `json:"cloudSyncTimestamp,omitempty" yaml:"cloudSyncTimestamp,omitempty" toml:"cloudSyncTimestamp,omitempty"`

	// Version counts local writes of the record. It never leaves the store.
	Version int64 `json:"-" yaml:"-" toml:"-"`

	Notes   string `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
	Remarks string `json:"remarks,omitempty" yaml:"remarks,omitempty" toml:"remarks,omitempty"`
}

// Validate checks the fields a record cannot be persisted without.
func (r *InspectionRecord) Validate() error {
	if strings.TrimSpace(r.ComponentName) == "" {
		return &ValidationError{Field: "componentName", Reason: "is required"}
	}
	if strings.TrimSpace(r.InspectorName) == "" {
		return &ValidationError{Field: "inspectorName", Reason: "is required"}
	}
	if r.Status != "" && !r.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status " + string(r.Status)}
	}
	for _, m := range r.Measurements() {
		if m.Value != nil && (math.IsNaN(*m.Value) || math.IsInf(*m.Value, 0)) {
			return &ValidationError{Field: m.Key, Reason: "must be a finite number"}
		}
	}
	return nil
}

// Key is the remote document key: the decimal form of the local id.
func (r *InspectionRecord) Key() string {
	return KeyOf(r.ID)
}

// Matches reports whether any searchable field contains q, ignoring case.
// A blank query matches everything.
func (r *InspectionRecord) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	for _, field := range []string{r.ComponentName, r.ComponentPartNumber, r.BatchNumber, r.SerialNumber} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Measurements returns the instrument readings keyed by their wire names, in a
// fixed order suitable for tables. Absent readings are included as nil.
func (r *InspectionRecord) Measurements() []Measurement {
	return []Measurement{
		{"vernierLength", "Vernier length", r.VernierLength},
		{"vernierWidth", "Vernier width", r.VernierWidth},
		{"vernierHeight", "Vernier height", r.VernierHeight},
		{"vernierDiameter", "Vernier diameter", r.VernierDiameter},
		{"micrometerThickness", "Micrometer thickness", r.MicrometerThickness},
		{"micrometerOuterDiameter", "Micrometer OD", r.MicrometerOuterDiameter},
		{"micrometerInnerDiameter", "Micrometer ID", r.MicrometerInnerDiameter},
		{"heightMasterMeasurement", "Height master", r.HeightMasterMeasurement},
	}
}

// Measurement is one named reading.
type Measurement struct {
	Key   string
	Label string
	Value *float64
}

// Float returns a pointer to v, for filling measurement fields.
func Float(v float64) *float64 {
	return &v
}

// Millis truncates t to the millisecond precision records are stored with.
func Millis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli())
}
