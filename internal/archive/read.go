package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
)

type EntryKind string

const (
	EntryTable EntryKind = "table"
	EntryEmpty EntryKind = "empty"
	EntryError EntryKind = "error"
	EntryLog   EntryKind = "log"
)

// Entry is one decoded archive member. Index is 0 for the execution log.
type Entry struct {
	Index int
	Kind  EntryKind
	Name  string
	Data  []byte
}

var entryNamePattern = regexp.MustCompile(`^query_([1-9][0-9]*)(_error|_empty)?\.(csv|parquet|txt)$`)

// Read unpacks an archive written by Packager. Result entries come back in
// statement order and the execution log last.
func Read(r io.ReaderAt, size int64) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	entries := make([]Entry, 0, len(zr.File))
	var logEntry *Entry
	for _, file := range zr.File {
		data, err := readFile(file)
		if err != nil {
			return nil, err
		}
		if file.Name == LogEntryName {
			logEntry = &Entry{Kind: EntryLog, Name: file.Name, Data: data}
			continue
		}
		index, kind, err := parseEntryName(file.Name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Index: index, Kind: kind, Name: file.Name, Data: data})
	}
	if logEntry == nil {
		return nil, fmt.Errorf("archive has no %s", LogEntryName)
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Index < entries[j].Index })
	return append(entries, *logEntry), nil
}

// ReadBytes is Read over an in-memory archive.
func ReadBytes(data []byte) ([]Entry, error) {
	return Read(bytes.NewReader(data), int64(len(data)))
}

func parseEntryName(name string) (int, EntryKind, error) {
	match := entryNamePattern.FindStringSubmatch(name)
	if match == nil {
		return 0, "", fmt.Errorf("unexpected archive entry %q", name)
	}
	index, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, "", fmt.Errorf("parse entry index %q: %w", name, err)
	}
	switch {
	case match[2] == "_error" && match[3] == "txt":
		return index, EntryError, nil
	case match[2] == "_empty" && match[3] == "txt":
		return index, EntryEmpty, nil
	case match[2] == "" && match[3] != "txt":
		return index, EntryTable, nil
	default:
		return 0, "", fmt.Errorf("unexpected archive entry %q", name)
	}
}

func readFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open archive entry %s: %w", file.Name, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read archive entry %s: %w", file.Name, err)
	}
	return data, nil
}
