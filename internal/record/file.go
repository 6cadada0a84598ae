package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Supported record file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// FormatOf infers the format from a file extension, or returns "".
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	}
	return ""
}

// Decode parses a single record in the given format. The result is not
// validated.
func Decode(data []byte, format string) (*InspectionRecord, error) {
	var rec InspectionRecord
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse JSON record: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to parse YAML record: %w", err)
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), &rec)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML record: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("failed to parse TOML record: unknown key %s", undecoded[0])
		}
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}

	if rec.Status != "" {
		st, err := ParseStatus(string(rec.Status))
		if err != nil {
			return nil, err
		}
		rec.Status = st
	}
	return &rec, nil
}

// ReadFile reads and decodes a record file, choosing the format by extension.
func ReadFile(path string) (*InspectionRecord, error) {
	format := FormatOf(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported record file %s (want .json, .yaml or .toml)", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	return Decode(data, format)
}

// Encode renders rec in the given format for display or export.
func Encode(rec *InspectionRecord, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(rec, "", "  ")
	case FormatYAML:
		return yaml.Marshal(rec)
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(rec); err != nil {
			return nil, fmt.Errorf("failed to encode TOML record: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported record format %q", format)
	}
}
