// Package archive packages the outcomes of a run into a zip archive and
// reads such archives back.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/sqlgate/sqlgate/internal/execlog"
	"github.com/sqlgate/sqlgate/internal/pipeline"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"

	LogEntryName        = "execution_log.txt"
	DefaultExcerptLimit = 500
	emptyMarker         = "Statement executed successfully and returned no rows.\n"
)

// Packager writes one entry per outcome, named after the outcome's 1-based
// index, followed by the execution log.
type Packager struct {
	Format       Format
	ExcerptLimit int
}

func NewPackager(format Format, excerptLimit int) (Packager, error) {
	switch format {
	case "":
		format = FormatCSV
	case FormatCSV, FormatParquet:
	default:
		return Packager{}, fmt.Errorf("unsupported archive format %q", format)
	}
	if excerptLimit <= 0 {
		excerptLimit = DefaultExcerptLimit
	}
	return Packager{Format: format, ExcerptLimit: excerptLimit}, nil
}

// EntryName returns the archive entry name for an outcome.
func (p Packager) EntryName(outcome pipeline.Outcome) string {
	switch outcome.Kind {
	case pipeline.OutcomeError:
		return fmt.Sprintf("query_%d_error.txt", outcome.Index)
	case pipeline.OutcomeEmpty:
		return fmt.Sprintf("query_%d_empty.txt", outcome.Index)
	default:
		if p.Format == FormatParquet {
			return fmt.Sprintf("query_%d.parquet", outcome.Index)
		}
		return fmt.Sprintf("query_%d.csv", outcome.Index)
	}
}

func (p Packager) Package(w io.Writer, outcomes []pipeline.Outcome, log []execlog.Entry) error {
	zw := zip.NewWriter(w)
	modified := time.Now().UTC()

	for _, outcome := range outcomes {
		data, err := p.encode(outcome)
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("encode outcome %d: %w", outcome.Index, err)
		}
		if err := writeEntry(zw, p.EntryName(outcome), modified, data); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := writeEntry(zw, LogEntryName, modified, []byte(execlog.Text(log))); err != nil {
		_ = zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// Bytes packages into memory.
func (p Packager) Bytes(outcomes []pipeline.Outcome, log []execlog.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Package(&buf, outcomes, log); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p Packager) encode(outcome pipeline.Outcome) ([]byte, error) {
	switch outcome.Kind {
	case pipeline.OutcomeError:
		return []byte(p.errorText(outcome)), nil
	case pipeline.OutcomeEmpty:
		return []byte(emptyMarker), nil
	case pipeline.OutcomeTable:
		if p.Format == FormatParquet {
			return encodeParquet(outcome.Columns, outcome.Rows)
		}
		return encodeCSV(outcome.Columns, outcome.Rows)
	default:
		return nil, fmt.Errorf("unknown outcome kind %q", outcome.Kind)
	}
}

func (p Packager) errorText(outcome pipeline.Outcome) string {
	limit := p.ExcerptLimit
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}
	heading := "Error"
	if outcome.Rejected {
		heading = "Rejected"
	}
	return fmt.Sprintf("%s: %s\n\nStatement %d:\n%s\n", heading, outcome.Message, outcome.Index, Excerpt(outcome.Statement, limit))
}

// Excerpt truncates text to at most limit runes, marking the cut.
func Excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}

func encodeCSV(columns []string, rows [][]any) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = formatValue(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(typed)
	}
}

func writeEntry(zw *zip.Writer, name string, modified time.Time, data []byte) error {
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("write archive entry %s: %w", name, err)
	}
	return nil
}
