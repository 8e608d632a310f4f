package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// ExportFormat selects an output encoding.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	// FormatTDE is JSON wrapped in a versioned envelope and labelled as a
	// Tableau extract. It is not a real .tde/.hyper file.
	FormatTDE ExportFormat = "tde"
)

// tdeVersion is written into the TDE envelope.
const tdeVersion = "1.0"

// ParseExportFormat accepts a case-insensitive format name.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatTDE, "tableau":
		return FormatTDE, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatTDE:
		return "application/vnd.tableau.extract"
	default:
		return "text/csv"
	}
}

// FileName derives an export file name from the dataset source name.
func (f ExportFormat) FileName(source string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "dataset"
	}
	return fmt.Sprintf("%s_cleaned_%s.%s", base, at.Format("20060102_150405"), string(f))
}

// Export writes ds to w in the requested format.
func Export(w io.Writer, ds *Dataset, format ExportFormat) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, ds)
	case FormatJSON:
		return WriteJSON(w, ds)
	case FormatTDE:
		return WriteTDE(w, ds)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteCSV writes a header row followed by one record per row. Nulls are
// written as empty cells.
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Headers); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	record := make([]string, len(ds.Headers))
	for i, row := range ds.Rows {
		for j, h := range ds.Headers {
			record[j] = Format(row[h])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the full dataset, including metadata, as indented JSON.
func WriteJSON(w io.Writer, ds *Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonSafe(ds))
}

// WriteTDE writes the dataset inside a {"version","dataset"} envelope.
func WriteTDE(w io.Writer, ds *Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Version string   `json:"version"`
		Dataset *Dataset `json:"dataset"`
	}{
		Version: tdeVersion,
		Dataset: jsonSafe(ds),
	})
}

// jsonSafe replaces NaN and infinities, which encoding/json rejects, with null.
func jsonSafe(ds *Dataset) *Dataset {
	dirty := false
	for _, row := range ds.Rows {
		for _, v := range row {
			if Format(v) == "" && KindOf(v) == KindNumber {
				dirty = true
				break
			}
		}
		if dirty {
			break
		}
	}
	if !dirty {
		return ds
	}

	out := ds.Clone()
	for _, row := range out.Rows {
		for k, v := range row {
			if Format(v) == "" && KindOf(v) == KindNumber {
				row[k] = nil
			}
		}
	}
	return out
}
