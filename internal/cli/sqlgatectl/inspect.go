package sqlgatectl

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/sqlgate/sqlgate/internal/archive"
)

// EntrySummary describes one archive entry for display.
type EntrySummary struct {
	Name  string
	Kind  archive.EntryKind
	Rows  int
	Bytes int
}

// Inspect summarizes a result archive and returns its execution log. Rows is
// -1 for entries without tabular data.
func Inspect(data []byte) ([]EntrySummary, string, error) {
	entries, err := archive.ReadBytes(data)
	if err != nil {
		return nil, "", err
	}
	out := make([]EntrySummary, 0, len(entries))
	log := ""
	for _, entry := range entries {
		if entry.Kind == archive.EntryLog {
			log = string(entry.Data)
		}
		summary := EntrySummary{Name: entry.Name, Kind: entry.Kind, Rows: -1, Bytes: len(entry.Data)}
		if entry.Kind == archive.EntryTable {
			rows, err := tableRows(entry)
			if err != nil {
				return nil, "", fmt.Errorf("read %s: %w", entry.Name, err)
			}
			summary.Rows = rows
		}
		out = append(out, summary)
	}
	return out, log, nil
}

func tableRows(entry archive.Entry) (int, error) {
	if strings.HasSuffix(entry.Name, ".parquet") {
		rows, err := archive.ParquetRowCount(entry.Data)
		return int(rows), err
	}
	records, err := csv.NewReader(bytes.NewReader(entry.Data)).ReadAll()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return len(records) - 1, nil
}

func writeInspection(w io.Writer, summaries []EntrySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENTRY\tKIND\tROWS\tBYTES")
	for _, summary := range summaries {
		rows := "-"
		if summary.Rows >= 0 {
			rows = strconv.Itoa(summary.Rows)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", summary.Name, summary.Kind, rows, summary.Bytes)
	}
	return tw.Flush()
}
