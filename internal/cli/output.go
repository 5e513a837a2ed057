package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// maxColumnWidth is the widest a table cell gets before it is truncated.
const maxColumnWidth = 50

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatCSV   = "csv"
)

// row is one record of command output, keyed by column.
type row = map[string]any

func writeRows(w io.Writer, format string, rows []row) error {
	switch format {
	case "", formatTable:
		return outputTable(w, rows)
	case formatJSON:
		return outputJSON(w, rows)
	case formatCSV:
		return outputCSV(w, rows)
	}
	return fmt.Errorf("unknown format %q (want table, json or csv)", format)
}

func outputJSON(w io.Writer, rows []row) error {
	if rows == nil {
		rows = []row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// columns returns every column in rows with "name" first and the rest
// sorted.
func columns(rows []row) []string {
	set := make(map[string]bool)
	for _, r := range rows {
		for col := range r {
			set[col] = true
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool {
		if cols[i] == "name" {
			return true
		}
		if cols[j] == "name" {
			return false
		}
		return cols[i] < cols[j]
	})
	return cols
}

func cell(r row, col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func outputCSV(w io.Writer, rows []row) error {
	if len(rows) == 0 {
		return nil
	}
	cols := columns(rows)
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	for _, r := range rows {
		record := make([]string, len(cols))
		for i, col := range cols {
			record[i] = cell(r, col)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func truncateString(s string) string {
	if len(s) > maxColumnWidth {
		return s[:maxColumnWidth-3] + "..."
	}
	return s
}

func outputTable(w io.Writer, rows []row) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No items")
		return err
	}
	cols := columns(rows)

	widths := make(map[string]int, len(cols))
	for _, col := range cols {
		widths[col] = len(col)
	}
	for _, r := range rows {
		for _, col := range cols {
			if n := len(truncateString(cell(r, col))); n > widths[col] {
				widths[col] = n
			}
		}
	}

	var header, separator strings.Builder
	for i, col := range cols {
		if i > 0 {
			header.WriteString(" | ")
			separator.WriteString("-+-")
		}
		fmt.Fprintf(&header, "%-*s", widths[col], col)
		separator.WriteString(strings.Repeat("-", widths[col]))
	}
	fmt.Fprintln(w, strings.TrimRight(header.String(), " "))
	fmt.Fprintln(w, separator.String())

	for _, r := range rows {
		var line strings.Builder
		for i, col := range cols {
			if i > 0 {
				line.WriteString(" | ")
			}
			fmt.Fprintf(&line, "%-*s", widths[col], truncateString(cell(r, col)))
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}

	_, err := fmt.Fprintf(w, "\n%d item(s)\n", len(rows))
	return err
}
