package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(raw string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", formatTable:
		return formatTable, nil
	case formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q; expected table, json or yaml", raw)
	}
}

// table is a header plus rows rendered with tabwriter.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

// render writes payload as json or yaml, or t when the format is table.
// YAML goes through the JSON encoding so both formats share field names.
func render(out io.Writer, format outputFormat, payload any, t *table) error {
	switch format {
	case formatJSON:
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintln(out, string(raw))
		return err
	case formatYAML:
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		if len(t.header) > 0 {
			_, _ = fmt.Fprintln(tw, strings.Join(t.header, "\t"))
		}
		for _, row := range t.rows {
			_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		return tw.Flush()
	}
}

func formatFloat(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
