package state

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatYAML:
		return Format(s), nil
	case "sls", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want json or yaml)", s)
	}
}

// Render converts records into the runner's ordered list of single-key mappings.
func Render(records []Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = r.Render()
	}
	return out
}

// Encode writes records in the given format. Map keys are sorted by both
// encoders, so identical records always produce identical bytes.
func Encode(w io.Writer, records []Record, format Format) error {
	rendered := Render(records)
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rendered); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rendered); err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		return nil
	}
}

// MarshalJSON encodes a compact JSON rendering of records.
func MarshalJSON(records []Record) ([]byte, error) {
	return json.Marshal(Render(records))
}
