// Package exports renders the settlement journal for reconciliation.
package exports

import (
	"fmt"
	"strings"

	"stakevault/services/vaultd/journal"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts the format names used on the command line and admin API.
// An empty value selects CSV.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatJSONL, FormatParquet:
		return f, nil
	default:
		return "", fmt.Errorf("exports: unknown format %q", raw)
	}
}

// ContentType is the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSONL:
		return "application/x-ndjson"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// Render encodes records in format f.
func Render(f Format, records []journal.Record) ([]byte, string, error) {
	switch f {
	case FormatCSV:
		return AttemptsCSV(records)
	case FormatJSONL:
		return AttemptsJSONL(records)
	case FormatParquet:
		return AttemptsParquet(records)
	default:
		return nil, "", fmt.Errorf("exports: unknown format %q", f)
	}
}
