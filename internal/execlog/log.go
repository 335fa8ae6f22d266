// Package execlog records the ordered trace of one pipeline run.
package execlog

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Stage string

const (
	StageConnect   Stage = "connect"
	StageEstimate  Stage = "estimate"
	StageAdmission Stage = "admission"
	StageExecute   Stage = "execute"
	StageResult    Stage = "result"
	StageRun       Stage = "run"
)

// Entry is one human-readable trace line. Statement is the 1-based statement
// index, or 0 for run-level entries.
type Entry struct {
	Seq       int       `json:"seq"`
	Time      time.Time `json:"time"`
	Statement int       `json:"statement,omitempty"`
	Stage     Stage     `json:"stage"`
	Message   string    `json:"message"`
}

func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Time.UTC().Format(time.RFC3339Nano))
	b.WriteString(" [")
	b.WriteString(string(e.Stage))
	b.WriteString("]")
	if e.Statement > 0 {
		fmt.Fprintf(&b, " statement %d:", e.Statement)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	return b.String()
}

// Log is append-only. Observer, when set, sees every entry as it is added.
type Log struct {
	mu       sync.Mutex
	entries  []Entry
	now      func() time.Time
	Observer func(Entry)
}

func New() *Log {
	return &Log{now: time.Now}
}

func (l *Log) Add(statement int, stage Stage, format string, args ...any) Entry {
	l.mu.Lock()
	now := time.Now
	if l.now != nil {
		now = l.now
	}
	entry := Entry{
		Seq:       len(l.entries) + 1,
		Time:      now().UTC(),
		Statement: statement,
		Stage:     stage,
		Message:   fmt.Sprintf(format, args...),
	}
	l.entries = append(l.entries, entry)
	observer := l.Observer
	l.mu.Unlock()

	if observer != nil {
		observer(entry)
	}
	return entry
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Snapshot returns a copy; later appends do not affect it.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Text renders entries one per line, as stored in execution_log.txt.
func Text(entries []Entry) string {
	var b strings.Builder
	for _, entry := range entries {
		b.WriteString(entry.String())
		b.WriteByte('\n')
	}
	return b.String()
}
