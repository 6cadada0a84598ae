package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Document is the flat key/value shape a record takes in the remote archive.
// Every attribute is a top-level key; timestamps are epoch milliseconds and
// absent optional values are null.
type Document map[string]any

// Wire keys.
const (
	FieldID                      = "id"
	FieldComponentName           = "componentName"
	FieldComponentPartNumber     = "componentPartNumber"
	FieldInspectionDate          = "inspectionDate"
	FieldInspectorName           = "inspectorName"
	FieldBatchNumber             = "batchNumber"
	FieldSerialNumber            = "serialNumber"
	FieldVernierLength           = "vernierLength"
	FieldVernierWidth            = "vernierWidth"
	FieldVernierHeight           = "vernierHeight"
	FieldVernierDiameter         = "vernierDiameter"
	FieldMicrometerThickness     = "micrometerThickness"
	FieldMicrometerOuterDiameter = "micrometerOuterDiameter"
	FieldMicrometerInnerDiameter = "micrometerInnerDiameter"
	FieldHeightMasterMeasurement = "heightMasterMeasurement"
	FieldAdditionalMeasurements  = "additionalMeasurements"
	FieldStatus                  = "status"
	FieldIsSynced                = "isSynced"
	FieldCloudSyncTimestamp      = "cloudSyncTimestamp"
	FieldNotes                   = "notes"
	FieldRemarks                 = "remarks"
)

// KeyOf returns the remote key for a local id.
func KeyOf(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ToDocument serializes r into its wire map.
func ToDocument(r *InspectionRecord) Document {
	status := r.Status
	if status == "" {
		status = StatusPending
	}
	return Document{
		FieldID:                      r.ID,
		FieldComponentName:           r.ComponentName,
		FieldComponentPartNumber:     nullString(r.ComponentPartNumber),
		FieldInspectionDate:          r.InspectionDate.UnixMilli(),
		FieldInspectorName:           r.InspectorName,
		FieldBatchNumber:             nullString(r.BatchNumber),
		FieldSerialNumber:            nullString(r.SerialNumber),
		FieldVernierLength:           nullFloat(r.VernierLength),
		FieldVernierWidth:            nullFloat(r.VernierWidth),
		FieldVernierHeight:           nullFloat(r.VernierHeight),
		FieldVernierDiameter:         nullFloat(r.VernierDiameter),
		FieldMicrometerThickness:     nullFloat(r.MicrometerThickness),
		FieldMicrometerOuterDiameter: nullFloat(r.MicrometerOuterDiameter),
		FieldMicrometerInnerDiameter: nullFloat(r.MicrometerInnerDiameter),
		FieldHeightMasterMeasurement: nullFloat(r.HeightMasterMeasurement),
		FieldAdditionalMeasurements:  nullString(r.AdditionalMeasurements),
		FieldStatus:                  string(status),
		FieldIsSynced:                r.IsSynced,
		FieldCloudSyncTimestamp:      nullMillis(r.CloudSyncTimestamp),
		FieldNotes:                   nullString(r.Notes),
		FieldRemarks:                 nullString(r.Remarks),
	}
}

// FromDocument rebuilds a record from its wire map. Every field is coerced or
// defaulted; only a missing id or a missing required name is fatal, and is
// reported as a DeserializationError.
func FromDocument(key string, doc map[string]any) (*InspectionRecord, error) {
	id, ok := asInt64(doc[FieldID])
	if !ok || id <= 0 {
		return nil, &DeserializationError{Key: key, Field: FieldID, Reason: "is missing or not a positive integer"}
	}

	componentName, _ := asString(doc[FieldComponentName])
	if strings.TrimSpace(componentName) == "" {
		return nil, &DeserializationError{Key: key, Field: FieldComponentName, Reason: "is missing"}
	}
	inspectorName, _ := asString(doc[FieldInspectorName])
	if strings.TrimSpace(inspectorName) == "" {
		return nil, &DeserializationError{Key: key, Field: FieldInspectorName, Reason: "is missing"}
	}

	r := &InspectionRecord{
		ID:                      id,
		ComponentName:           componentName,
		InspectorName:           inspectorName,
		VernierLength:           asFloat(doc[FieldVernierLength]),
		VernierWidth:            asFloat(doc[FieldVernierWidth]),
		VernierHeight:           asFloat(doc[FieldVernierHeight]),
		VernierDiameter:         asFloat(doc[FieldVernierDiameter]),
		MicrometerThickness:     asFloat(doc[FieldMicrometerThickness]),
		MicrometerOuterDiameter: asFloat(doc[FieldMicrometerOuterDiameter]),
		MicrometerInnerDiameter: asFloat(doc[FieldMicrometerInnerDiameter]),
		HeightMasterMeasurement: asFloat(doc[FieldHeightMasterMeasurement]),
	}
	r.ComponentPartNumber, _ = asString(doc[FieldComponentPartNumber])
	r.BatchNumber, _ = asString(doc[FieldBatchNumber])
	r.SerialNumber, _ = asString(doc[FieldSerialNumber])
	r.AdditionalMeasurements, _ = asString(doc[FieldAdditionalMeasurements])
	r.Notes, _ = asString(doc[FieldNotes])
	r.Remarks, _ = asString(doc[FieldRemarks])

	if ms, ok := asInt64(doc[FieldInspectionDate]); ok {
		r.InspectionDate = time.UnixMilli(ms)
	} else {
		r.InspectionDate = Millis(time.Now())
	}

	status, _ := asString(doc[FieldStatus])
	r.Status = StatusFromWire(status)

	if synced, ok := doc[FieldIsSynced].(bool); ok {
		r.IsSynced = synced
	}
	if ms, ok := asInt64(doc[FieldCloudSyncTimestamp]); ok {
		ts := time.UnixMilli(ms)
		r.CloudSyncTimestamp = &ts
	}

	return r, nil
}

// MarshalDocument encodes r as a JSON object. A record that cannot be
// encoded, such as one holding a non-finite reading, is a ValidationError.
func MarshalDocument(r *InspectionRecord) ([]byte, error) {
	data, err := json.Marshal(ToDocument(r))
	if err != nil {
		return nil, &ValidationError{Field: "document", Reason: fmt.Sprintf("of inspection %d cannot be encoded: %v", r.ID, err)}
	}
	return data, nil
}

// UnmarshalDocument decodes a JSON object produced by MarshalDocument (or by
// another writer of the same collection). Bytes that are not a JSON object are
// reported as a DeserializationError.
func UnmarshalDocument(key string, data []byte) (*InspectionRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, &DeserializationError{Key: key, Field: "document", Reason: "is not a JSON object: " + err.Error()}
	}
	return FromDocument(key, doc)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func asFloat(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int64:
		f = float64(n)
	case int:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
