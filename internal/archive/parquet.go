package archive

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/parquet-go/parquet-go"
)

var unsafeColumnChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// encodeParquet writes a result table with every column as an optional
// string. Column names are prefixed with their position so duplicate or
// empty result names stay unique and ordered.
func encodeParquet(columns []string, rows [][]any) ([]byte, error) {
	names := parquetColumnNames(columns)
	group := make(parquet.Group, len(names))
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	leaves := make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("parquet column %s missing from schema", name)
		}
		leaves[i] = leaf.ColumnIndex
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewWriter(buf, schema)
	batch := make([]parquet.Row, 0, len(rows))
	for _, row := range rows {
		record := make(parquet.Row, len(names))
		for i := range names {
			var value any
			if i < len(row) {
				value = row[i]
			}
			if value == nil {
				record[leaves[i]] = parquet.NullValue().Level(0, 0, leaves[i])
				continue
			}
			record[leaves[i]] = parquet.ByteArrayValue([]byte(formatValue(value))).Level(0, 1, leaves[i])
		}
		batch = append(batch, record)
	}
	if _, err := writer.WriteRows(batch); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

func parquetColumnNames(columns []string) []string {
	names := make([]string, len(columns))
	for i, column := range columns {
		clean := strings.Trim(unsafeColumnChars.ReplaceAllString(column, "_"), "_")
		if clean == "" {
			clean = "column"
		}
		names[i] = fmt.Sprintf("c%04d_%s", i+1, strings.ToLower(clean))
	}
	return names
}

// ParquetRowCount reports the number of rows stored in a parquet entry.
func ParquetRowCount(data []byte) (int64, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open parquet entry: %w", err)
	}
	return file.NumRows(), nil
}
